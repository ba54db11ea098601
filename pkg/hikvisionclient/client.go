/**
 * @description
 * This package provides a client for the HikCentral Professional (Artemis) OpenAPI.
 * It encapsulates request signing, payload construction, TLS trust, retries and error
 * reporting for the three calls the induction sync needs.
 *
 * @dependencies
 * - github.com/cenkalti/backoff/v5: bounded exponential retry (see retry.go).
 * - go.uber.org/zap: structured logging of failures with status and body.
 * - github.com/hcpvision/induction-sync/internal/domain: Artemis request/response structs.
 *
 * @notes
 * - Every call is signed independently; see signature.go.
 * - CreatePerson returns an error; AssignPrivilegeGroup and UpdateCustomField log and
 *   report success as a bool so a failing step never escapes the caller's sequence.
 */
package hikvisionclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/domain"
	"github.com/hcpvision/induction-sync/internal/observability"
)

const (
	acceptJSON      = "application/json"
	contentTypeJSON = "application/json;charset=UTF-8"

	PathAddPerson                = "/artemis/api/resource/v1/person/single/add"
	PathAddPrivilegeGroupPersons = "/artemis/api/acs/v1/privilege/group/single/addPersons"
	PathCustomFieldsUpdate       = "/artemis/api/resource/v1/person/personId/customFieldsUpdate"

	OpCreatePerson         = "create_person"
	OpAssignPrivilegeGroup = "assign_privilege_group"
	OpUpdateCustomField    = "update_custom_field"

	defaultRequestTimeout    = 30 * time.Second
	defaultPhotoTimeout      = 10 * time.Second
	customFieldTypeText      = 1
	privilegeGroupTypePerson = 1
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	AppKey    string
	AppSecret string

	// InsecureSkipVerify disables certificate verification. CAFile adds a PEM bundle
	// to the system roots, which is the preferred way to trust a self-signed HikCentral.
	InsecureSkipVerify bool
	CAFile             string

	RequestTimeout time.Duration
	PhotoTimeout   time.Duration
	Retry          RetryPolicy
	Person         PersonDefaults
}

// PersonDefaults are the fixed fields of every create-person payload.
type PersonDefaults struct {
	OrgIndexCode string
	Remark       string
	BeginTime    string
	EndTime      string
	PhoneNumber  string
	Email        string
}

// ExternalCallError is returned when an Artemis call fails at the transport, HTTP or
// business-result level.
type ExternalCallError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
	retryable  bool
}

func (e *ExternalCallError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("hikcentral %s failed: %v", e.Operation, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("hikcentral %s failed with status %d: %v: %s", e.Operation, e.StatusCode, e.Err, e.Body)
	default:
		return fmt.Sprintf("hikcentral %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
	}
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

// Client is a client for the HikCentral Artemis API.
type Client struct {
	baseURL     string
	signer      Signer
	httpClient  *http.Client
	photoClient *http.Client
	retry       RetryPolicy
	person      PersonDefaults
	log         *zap.Logger
}

// NewClient creates a new HikCentral client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("hikcentral base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PhotoTimeout <= 0 {
		cfg.PhotoTimeout = defaultPhotoTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tlsConfig, err := buildTLSConfig(cfg.InsecureSkipVerify, cfg.CAFile)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	// Photos are usually served from the same internal hosts, so they share the trust settings.
	photoTransport := http.DefaultTransport.(*http.Transport).Clone()
	photoTransport.TLSClientConfig = tlsConfig.Clone()

	if cfg.InsecureSkipVerify {
		logger.Warn("hikcentral TLS verification is disabled")
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		signer:  Signer{AppKey: cfg.AppKey, AppSecret: cfg.AppSecret},
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		photoClient: &http.Client{
			Timeout:   cfg.PhotoTimeout,
			Transport: photoTransport,
		},
		retry:       cfg.Retry,
		person:      cfg.Person,
		log:         logger.With(zap.String("component", "hikvisionclient")),
	}, nil
}

func buildTLSConfig(insecure bool, caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in via HIKVISION_TLS_INSECURE
	if caFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read hikcentral CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// CreatePerson registers employee as a HikCentral person with the given privilege groups.
// A photo that cannot be fetched is sent as empty face data.
func (c *Client) CreatePerson(ctx context.Context, employee domain.Employee, groupIDs []string) (*domain.SyncResult, error) {
	log := c.log.With(zap.String("identity_number", employee.IdentityNumber), zap.String("name", employee.Name))

	faceData := c.downloadPhotoBase64(ctx, employee.PhotoLink(), log)
	req := c.buildAddPersonRequest(employee, faceData, groupIDs)

	resp, raw, err := c.post(ctx, OpCreatePerson, PathAddPerson, req)
	if err != nil {
		log.Error("failed to create person on hikcentral", zap.Error(err))
		return nil, err
	}

	result := domain.NewSyncResult(*resp, raw)
	if result.PersonID != nil {
		log.Info("created person on hikcentral", zap.String("person_id", *result.PersonID))
	} else {
		log.Warn("hikcentral created person without returning a person id", zap.ByteString("body", raw))
	}
	return result, nil
}

func (c *Client) buildAddPersonRequest(employee domain.Employee, faceData string, groupIDs []string) domain.AddPersonRequest {
	phone := strings.TrimSpace(employee.PhoneNumber)
	if phone == "" {
		phone = c.person.PhoneNumber
	}
	email := strings.TrimSpace(employee.Email)
	if email == "" {
		email = c.person.Email
	}

	return domain.AddPersonRequest{
		PersonCode:        employee.IdentityNumber,
		PersonFamilyName:  " ",
		PersonGivenName:   employee.Name,
		Gender:            1,
		OrgIndexCode:      c.person.OrgIndexCode,
		Remark:            c.person.Remark,
		PhoneNo:           phone,
		Email:             email,
		Faces:             []domain.Face{{FaceData: faceData}},
		BeginTime:         c.person.BeginTime,
		EndTime:           c.person.EndTime,
		PrivilegeGroupIDs: strings.Join(groupIDs, ","),
	}
}

// AssignPrivilegeGroup adds personID to one privilege group. Failures are logged and
// reported as false.
func (c *Client) AssignPrivilegeGroup(ctx context.Context, personID, groupID string) bool {
	req := domain.PrivilegeGroupAddPersonsRequest{
		PrivilegeGroupID: groupID,
		Type:             privilegeGroupTypePerson,
		List:             []domain.PersonRef{{ID: personID}},
	}

	if _, _, err := c.post(ctx, OpAssignPrivilegeGroup, PathAddPrivilegeGroupPersons, req); err != nil {
		c.log.Error("failed to add person to privilege group",
			zap.String("person_id", personID),
			zap.String("privilege_group_id", groupID),
			zap.Error(err),
		)
		return false
	}

	c.log.Info("added person to privilege group", zap.String("person_id", personID), zap.String("privilege_group_id", groupID))
	return true
}

// UpdateCustomField sets one text custom field on a person. Failures are logged and
// reported as false.
func (c *Client) UpdateCustomField(ctx context.Context, personID, fieldName, fieldValue string) bool {
	req := domain.CustomFieldsUpdateRequest{
		PersonID: personID,
		List: []domain.CustomField{{
			ID:               "1",
			CustomFiledName:  fieldName,
			CustomFieldType:  customFieldTypeText,
			CustomFieldValue: fieldValue,
		}},
	}

	if _, _, err := c.post(ctx, OpUpdateCustomField, PathCustomFieldsUpdate, req); err != nil {
		c.log.Error("failed to update person custom field",
			zap.String("person_id", personID),
			zap.String("field", fieldName),
			zap.Error(err),
		)
		return false
	}

	c.log.Info("updated person custom field", zap.String("person_id", personID), zap.String("field", fieldName))
	return true
}

// post marshals payload once and sends it with the retry policy.
func (c *Client) post(ctx context.Context, operation, path string, payload interface{}) (*domain.ArtemisResponse, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s request body: %w", operation, err)
	}

	type reply struct {
		resp *domain.ArtemisResponse
		raw  []byte
	}
	out, err := withRetry(ctx, c.retry, c.log.With(zap.String("operation", operation)), func() (reply, error) {
		resp, raw, err := c.send(ctx, operation, path, body)
		return reply{resp: resp, raw: raw}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return out.resp, out.raw, nil
}

// send performs a single signed attempt.
func (c *Client) send(ctx context.Context, operation, path string, body []byte) (*domain.ArtemisResponse, []byte, error) {
	start := time.Now()
	defer func() {
		observability.ExternalCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, &ExternalCallError{Operation: operation, Err: fmt.Errorf("failed to create http request: %w", err)}
	}
	c.signer.Apply(httpReq, acceptJSON, contentTypeJSON, path)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.ExternalCalls.WithLabelValues(operation, "transport_error").Inc()
		return nil, nil, &ExternalCallError{Operation: operation, Err: err, retryable: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ExternalCalls.WithLabelValues(operation, "transport_error").Inc()
		return nil, nil, &ExternalCallError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
			retryable:  ctx.Err() == nil,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.ExternalCalls.WithLabelValues(operation, "http_error").Inc()
		return nil, raw, &ExternalCallError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var parsed domain.ArtemisResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			observability.ExternalCalls.WithLabelValues(operation, "decode_error").Inc()
			return nil, raw, &ExternalCallError{
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Body:       string(raw),
				Err:        fmt.Errorf("failed to decode response: %w", err),
			}
		}
	}
	if !parsed.OK() {
		observability.ExternalCalls.WithLabelValues(operation, "api_error").Inc()
		return nil, raw, &ExternalCallError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Err:        fmt.Errorf("artemis result code %s: %s", parsed.ResultCode(), parsed.Msg),
		}
	}

	observability.ExternalCalls.WithLabelValues(operation, "ok").Inc()
	return &parsed, raw, nil
}
