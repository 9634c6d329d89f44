// Package prover implements the external ZK prover REST client: the
// pre-check "execute" endpoint used to validate a receipt before the
// expensive proof is generated, and the "proof" endpoint that produces the
// EVM-verifiable proof submitted on-chain via chain.Gateway.SubmitPaymentProof.
package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

const (
	executePollInitialDelay = 10 * time.Second
	executePollMaxDelay     = 30 * time.Second
	executePollBackoffNum   = 3
	executePollBackoffDen   = 2
	executePollDeadline     = 10 * time.Minute

	proofPollMaxAttempts = 120
	proofPollInitialSecs = 10
	proofPollMaxSecs     = 30
)

// Client talks to the external prover's REST surface.
type Client struct {
	baseURL    string
	apiKey     string
	programID  string
	configID   string
	httpClient *http.Client
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (timeouts, transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient constructs a prover Client.
func NewClient(baseURL, apiKey, programID, configID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		programID:  programID,
		configID:   configID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     log.New(os.Stderr, "prover: ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// publicValues unmarshals the prover's output either as a 0x-prefixed hex
// string or as a JSON array of byte values, since the upstream API returns
// either shape depending on endpoint version.
type publicValues []byte

func (p *publicValues) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		b, err := hex.DecodeString(trim0x(asString))
		if err != nil {
			return fmt.Errorf("decode public_values hex: %w", err)
		}
		*p = b
		return nil
	}

	var asArray []int
	if err := json.Unmarshal(data, &asArray); err != nil {
		return fmt.Errorf("public_values is neither a hex string nor a byte array: %w", err)
	}
	b := make([]byte, len(asArray))
	for i, v := range asArray {
		if v < 0 || v > 255 {
			return fmt.Errorf("invalid byte value %d in public_values array", v)
		}
		b[i] = byte(v)
	}
	*p = b
	return nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// executionSubmitResponse is the body of POST /executions.
type executionSubmitResponse struct {
	ID string `json:"id"`
}

// executionStatusResponse is the body of GET /executions/{id}.
type executionStatusResponse struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message"`
	PublicValues publicValues `json:"public_values"`
}

// ExecuteProgram runs the fast validation pass: submit input streams, poll
// for completion, and return the 32-byte public_values output. This is a
// pre-check only — it does not produce an on-chain-submittable proof.
func (c *Client) ExecuteProgram(ctx context.Context, tradeID string, inputStreams []string) ([32]byte, error) {
	correlationID := uuid.New().String()
	c.logger.Printf("[%s/%s] submitting execution request, %d input streams", tradeID, correlationID, len(inputStreams))

	executionID, err := c.submitExecutionRequest(ctx, inputStreams)
	if err != nil {
		return [32]byte{}, err
	}
	c.logger.Printf("[%s/%s] execution submitted: %s", tradeID, correlationID, executionID)

	result, err := c.pollExecutionStatus(ctx, executionID)
	if err != nil {
		return [32]byte{}, err
	}

	if len(result.PublicValues) == 0 {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "no error message provided"
		}
		return [32]byte{}, coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("execution failed with status %q: %s", result.Status, msg))
	}
	if len(result.PublicValues) != 32 {
		return [32]byte{}, coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("invalid public_values size: expected 32 bytes, got %d", len(result.PublicValues)))
	}

	var out [32]byte
	copy(out[:], result.PublicValues)
	return out, nil
}

func (c *Client) submitExecutionRequest(ctx context.Context, inputStreams []string) (string, error) {
	body, err := json.Marshal(map[string]any{"input": inputStreams})
	if err != nil {
		return "", fmt.Errorf("marshal execution request: %w", err)
	}

	u := c.baseURL + "/v1/executions"
	q := url.Values{"program_id": {c.programID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build execution request: %w", err)
	}
	req.Header.Set("Axiom-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", coordinator.Wrap(coordinator.ProverUnavailable, "submit execution request", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("submit execution request (%d): %s", resp.StatusCode, string(respBody)))
	}

	var submitResp executionSubmitResponse
	if err := json.Unmarshal(respBody, &submitResp); err != nil {
		return "", fmt.Errorf("parse execution submit response: %w: %s", err, string(respBody))
	}
	return submitResp.ID, nil
}

func (c *Client) pollExecutionStatus(ctx context.Context, executionID string) (*executionStatusResponse, error) {
	deadline := time.Now().Add(executePollDeadline)
	delay := executePollInitialDelay

	for {
		if time.Now().After(deadline) {
			return nil, coordinator.New(coordinator.ProverUnavailable, "execution polling exceeded 10 minute deadline")
		}

		resp, err := c.getExecutionStatus(ctx, executionID)
		if err != nil {
			return nil, err
		}

		switch resp.Status {
		case "Succeeded":
			return resp, nil
		case "Failed":
			msg := resp.ErrorMessage
			if msg == "" {
				msg = "unknown error"
			}
			return nil, coordinator.New(coordinator.ProverUnavailable, "execution failed: "+msg)
		case "Queued", "Executing":
			if err := sleepOrDone(ctx, delay); err != nil {
				return nil, err
			}
			if delay < executePollMaxDelay {
				delay = minDuration(delay*executePollBackoffNum/executePollBackoffDen, executePollMaxDelay)
			}
		default:
			c.logger.Printf("unknown execution status %q, continuing to poll", resp.Status)
			if err := sleepOrDone(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Client) getExecutionStatus(ctx context.Context, executionID string) (*executionStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/executions/"+executionID, nil)
	if err != nil {
		return nil, fmt.Errorf("build execution status request: %w", err)
	}
	req.Header.Set("Axiom-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.ProverUnavailable, "poll execution status", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("poll execution status (%d): %s", resp.StatusCode, string(body)))
	}

	var statusResp executionStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("parse execution status response: %w: %s", err, string(body))
	}
	return &statusResp, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// proofSubmitResponse is the body of POST /proofs.
type proofSubmitResponse struct {
	ID string `json:"id"`
}

// proofStatusResponse is the body of GET /proofs/{id}.
type proofStatusResponse struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	ProofType    string `json:"proof_type"`
	ErrorMessage string `json:"error_message"`
}

// evmProof is the body of GET /proofs/{id}/proof/evm.
type evmProof struct {
	Version          string       `json:"version"`
	AppExeCommit     string       `json:"app_exe_commit"`
	AppVMCommit      string       `json:"app_vm_commit"`
	UserPublicValues string       `json:"user_public_values"`
	ProofData        evmProofData `json:"proof_data"`
}

type evmProofData struct {
	Accumulator string `json:"accumulator"`
	Proof       string `json:"proof"`
}

// GeneratedProof is the parsed, length-validated proof ready for
// chain.Gateway.SubmitPaymentProof.
type GeneratedProof struct {
	ProofID          string
	UserPublicValues [32]byte
	Accumulator      [384]byte
	ProofData        [1376]byte
	AppExeCommit     [32]byte
	AppVMCommit      [32]byte

	// RawBlob is the prover's unparsed GET /proofs/{id}/proof/evm response
	// body, kept for attach_proof's proof_blob audit slot.
	RawBlob []byte
}

// GenerateEVMProof submits a proof request, polls until it reaches a
// terminal state, downloads the result, and validates its field lengths.
func (c *Client) GenerateEVMProof(ctx context.Context, tradeID string, inputStreams []string) (*GeneratedProof, error) {
	correlationID := uuid.New().String()
	c.logger.Printf("[%s/%s] submitting proof request, %d input streams", tradeID, correlationID, len(inputStreams))

	proofID, err := c.submitProofRequest(ctx, inputStreams)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("[%s/%s] proof submitted: %s", tradeID, correlationID, proofID)

	if err := c.pollProofStatus(ctx, proofID); err != nil {
		return nil, err
	}
	c.logger.Printf("[%s/%s] proof generation completed: %s", tradeID, correlationID, proofID)

	proof, rawBlob, err := c.downloadEVMProof(ctx, proofID)
	if err != nil {
		return nil, err
	}

	out, err := parseEVMProof(proofID, proof)
	if err != nil {
		return nil, err
	}
	out.RawBlob = rawBlob
	return out, nil
}

func (c *Client) submitProofRequest(ctx context.Context, inputStreams []string) (string, error) {
	body, err := json.Marshal(map[string]any{"input": inputStreams})
	if err != nil {
		return "", fmt.Errorf("marshal proof request: %w", err)
	}

	// program_id and proof_type must be query parameters, not body fields.
	u := c.baseURL + "/v1/proofs"
	q := url.Values{"program_id": {c.programID}, "proof_type": {"evm"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build proof request: %w", err)
	}
	req.Header.Set("Axiom-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", coordinator.Wrap(coordinator.ProverUnavailable, "submit proof request", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("submit proof request (%d): %s", resp.StatusCode, string(respBody)))
	}

	var submitResp proofSubmitResponse
	if err := json.Unmarshal(respBody, &submitResp); err != nil {
		return "", fmt.Errorf("parse proof submit response: %w: %s", err, string(respBody))
	}
	return submitResp.ID, nil
}

func (c *Client) pollProofStatus(ctx context.Context, proofID string) error {
	delaySecs := proofPollInitialSecs

	for attempt := 1; ; attempt++ {
		if attempt > proofPollMaxAttempts {
			return coordinator.New(coordinator.ProverUnavailable,
				fmt.Sprintf("proof generation timed out after %d attempts", proofPollMaxAttempts))
		}

		resp, err := c.getProofStatus(ctx, proofID)
		if err != nil {
			return err
		}

		switch resp.State {
		case "Succeeded":
			return nil
		case "Failed":
			msg := resp.ErrorMessage
			if msg == "" {
				msg = "unknown error"
			}
			return coordinator.New(coordinator.ProverUnavailable, "proof generation failed: "+msg)
		case "Queued", "Executing", "Executed", "AppProving", "AppProvingDone", "PostProcessing":
			if err := sleepOrDone(ctx, time.Duration(delaySecs)*time.Second); err != nil {
				return err
			}
			if delaySecs < proofPollMaxSecs {
				delaySecs = minInt(delaySecs*3/2, proofPollMaxSecs)
			}
		default:
			c.logger.Printf("unknown proof status %q, continuing to poll", resp.State)
			if err := sleepOrDone(ctx, time.Duration(delaySecs)*time.Second); err != nil {
				return err
			}
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (c *Client) getProofStatus(ctx context.Context, proofID string) (*proofStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/proofs/"+proofID, nil)
	if err != nil {
		return nil, fmt.Errorf("build proof status request: %w", err)
	}
	req.Header.Set("Axiom-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.ProverUnavailable, "poll proof status", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("poll proof status (%d): %s", resp.StatusCode, string(body)))
	}

	var statusResp proofStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("parse proof status response: %w: %s", err, string(body))
	}
	return &statusResp, nil
}

func (c *Client) downloadEVMProof(ctx context.Context, proofID string) (*evmProof, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/proofs/"+proofID+"/proof/evm", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build proof download request: %w", err)
	}
	req.Header.Set("Axiom-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, coordinator.Wrap(coordinator.ProverUnavailable, "download evm proof", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("download evm proof (%d): %s", resp.StatusCode, string(body)))
	}

	var proof evmProof
	if err := json.Unmarshal(body, &proof); err != nil {
		return nil, nil, fmt.Errorf("parse evm proof response: %w: %s", err, string(body))
	}
	return &proof, body, nil
}

// parseEVMProof hex-decodes every field and asserts the lengths the
// on-chain verifier and the receipt pipeline both require.
func parseEVMProof(proofID string, p *evmProof) (*GeneratedProof, error) {
	userPublicValues, err := decodeHexField("user_public_values", p.UserPublicValues, 32)
	if err != nil {
		return nil, err
	}
	accumulator, err := decodeHexField("accumulator", p.ProofData.Accumulator, 384)
	if err != nil {
		return nil, err
	}
	proofData, err := decodeHexField("proof", p.ProofData.Proof, 1376)
	if err != nil {
		return nil, err
	}
	appExeCommit, err := decodeHexField("app_exe_commit", p.AppExeCommit, 32)
	if err != nil {
		return nil, err
	}
	appVMCommit, err := decodeHexField("app_vm_commit", p.AppVMCommit, 32)
	if err != nil {
		return nil, err
	}

	out := &GeneratedProof{ProofID: proofID}
	copy(out.UserPublicValues[:], userPublicValues)
	copy(out.Accumulator[:], accumulator)
	copy(out.ProofData[:], proofData)
	copy(out.AppExeCommit[:], appExeCommit)
	copy(out.AppVMCommit[:], appVMCommit)
	return out, nil
}

func decodeHexField(name, s string, wantLen int) ([]byte, error) {
	b, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return nil, coordinator.Wrap(coordinator.ProverUnavailable, "decode "+name, err)
	}
	if len(b) != wantLen {
		return nil, coordinator.New(coordinator.ProverUnavailable,
			fmt.Sprintf("invalid %s length: expected %d, got %d", name, wantLen, len(b)))
	}
	return b, nil
}

// ConfigID exposes the prover configuration identifier this client was
// constructed with, for callers that need to tag logs or metrics with it.
func (c *Client) ConfigID() string { return c.configID }
