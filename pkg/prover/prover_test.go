package prover

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

func TestExecuteProgramHexPublicValues(t *testing.T) {
	wantBytes := make([]byte, 32)
	for i := range wantBytes {
		wantBytes[i] = byte(i)
	}
	wantHex := "0x" + hex.EncodeToString(wantBytes)

	var executionID = "exec-1"
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/executions"):
			if r.URL.Query().Get("program_id") == "" {
				t.Errorf("expected program_id query param on submit")
			}
			json.NewEncoder(w).Encode(executionSubmitResponse{ID: executionID})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/v1/executions/"+executionID):
			json.NewEncoder(w).Encode(map[string]any{
				"id": executionID, "status": "Succeeded", "public_values": wantHex,
			})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "program-1", "config-1")
	got, err := c.ExecuteProgram(context.Background(), "trade-1", []string{"stream-a"})
	if err != nil {
		t.Fatalf("ExecuteProgram: %v", err)
	}
	if hex.EncodeToString(got[:]) != hex.EncodeToString(wantBytes) {
		t.Errorf("public values = %x, want %x", got, wantBytes)
	}
	if calls != 2 {
		t.Errorf("expected 2 requests (submit + one poll), got %d", calls)
	}
}

func wantBytesFromHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		t.Fatalf("decode fixture hex: %v", err)
	}
	return b
}

func TestExecuteProgramFailedStatusReturnsProverUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(executionSubmitResponse{ID: "exec-x"})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(executionStatusResponse{ID: "exec-x", Status: "Failed", ErrorMessage: "bad witness"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "program-1", "config-1")
	_, err := c.ExecuteProgram(context.Background(), "trade-2", []string{"stream-a"})
	if coordinator.KindOf(err) != coordinator.ProverUnavailable {
		t.Fatalf("expected ProverUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad witness") {
		t.Errorf("expected error message to include upstream failure reason, got %v", err)
	}
}

func TestGenerateEVMProofSubmitsQueryParamsNotBody(t *testing.T) {
	accumulator := make([]byte, 384)
	proofBytes := make([]byte, 1376)
	publicVals := make([]byte, 32)
	exeCommit := make([]byte, 32)
	vmCommit := make([]byte, 32)
	for i := range publicVals {
		publicVals[i] = byte(i)
		exeCommit[i] = byte(i + 1)
		vmCommit[i] = byte(i + 2)
	}

	proofID := "proof-1"
	pollCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/proofs"):
			if r.URL.Query().Get("program_id") != "program-1" {
				t.Errorf("expected program_id query param, got %q", r.URL.Query().Get("program_id"))
			}
			if r.URL.Query().Get("proof_type") != "evm" {
				t.Errorf("expected proof_type=evm query param, got %q", r.URL.Query().Get("proof_type"))
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if _, ok := body["proof_type"]; ok {
				t.Errorf("proof_type must not appear in the request body")
			}
			json.NewEncoder(w).Encode(proofSubmitResponse{ID: proofID})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/v1/proofs/"+proofID):
			pollCount++
			state := "Executing"
			if pollCount >= 2 {
				state = "Succeeded"
			}
			json.NewEncoder(w).Encode(proofStatusResponse{ID: proofID, State: state, ProofType: "evm"})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/v1/proofs/"+proofID+"/proof/evm"):
			json.NewEncoder(w).Encode(evmProof{
				Version:          "1",
				AppExeCommit:     hex.EncodeToString(exeCommit),
				AppVMCommit:      hex.EncodeToString(vmCommit),
				UserPublicValues: hex.EncodeToString(publicVals),
				ProofData: evmProofData{
					Accumulator: hex.EncodeToString(accumulator),
					Proof:       hex.EncodeToString(proofBytes),
				},
			})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "program-1", "config-1")
	c.httpClient.Timeout = 0
	got, err := c.GenerateEVMProof(context.Background(), "trade-3", []string{"stream-a", "stream-b"})
	if err != nil {
		t.Fatalf("GenerateEVMProof: %v", err)
	}
	if got.ProofID != proofID {
		t.Errorf("ProofID = %q, want %q", got.ProofID, proofID)
	}
	if len(got.Accumulator) != 384 {
		t.Errorf("Accumulator length = %d, want 384", len(got.Accumulator))
	}
	if len(got.ProofData) != 1376 {
		t.Errorf("ProofData length = %d, want 1376", len(got.ProofData))
	}
}

func TestParseEVMProofRejectsWrongLengths(t *testing.T) {
	bad := &evmProof{
		AppExeCommit:     hex.EncodeToString(make([]byte, 32)),
		AppVMCommit:      hex.EncodeToString(make([]byte, 32)),
		UserPublicValues: hex.EncodeToString(make([]byte, 31)), // wrong length
		ProofData: evmProofData{
			Accumulator: hex.EncodeToString(make([]byte, 384)),
			Proof:       hex.EncodeToString(make([]byte, 1376)),
		},
	}
	_, err := parseEVMProof("proof-x", bad)
	if coordinator.KindOf(err) != coordinator.ProverUnavailable {
		t.Fatalf("expected ProverUnavailable for malformed proof, got %v", err)
	}
}

func TestPublicValuesUnmarshalAcceptsArrayShape(t *testing.T) {
	var pv publicValues
	if err := json.Unmarshal([]byte("[1,2,3]"), &pv); err != nil {
		t.Fatalf("unmarshal array shape: %v", err)
	}
	if len(pv) != 3 || pv[0] != 1 || pv[2] != 3 {
		t.Errorf("unexpected decoded bytes: %v", []byte(pv))
	}
}
