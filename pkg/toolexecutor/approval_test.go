package toolexecutor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubApprover answers after an optional delay.
type stubApprover struct {
	resp  ApprovalResponse
	err   error
	delay time.Duration
}

func (s stubApprover) RequestApproval(ctx context.Context, _ ApprovalRequest) (ApprovalResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ApprovalResponse{}, ctx.Err()
		}
	}
	return s.resp, s.err
}

var approve = stubApprover{resp: ApprovalResponse{Approved: true, Reason: "ok"}}

func TestApprovalManager_Approve(t *testing.T) {
	confirm := ApprovalRequest{ToolID: "tool_x", RiskLevel: risk.Elevated, Decision: risk.RequireConfirmation}
	elevate := ApprovalRequest{ToolID: "tool_y", RiskLevel: risk.Critical, Decision: risk.RequireElevatedApproval}

	t.Run("confirmation grant", func(t *testing.T) {
		granted, reason, err := NewApprovalManager(approve).Approve(context.Background(), confirm)
		require.NoError(t, err)
		assert.Equal(t, "ok", reason)
		assert.Equal(t, risk.Approval{Confirmed: true}, granted)
		assert.NoError(t, risk.Check(risk.Elevated, granted))
		assert.Error(t, risk.Check(risk.Critical, granted))
	})

	t.Run("elevation grant", func(t *testing.T) {
		granted, _, err := NewApprovalManager(approve).Approve(context.Background(), elevate)
		require.NoError(t, err)
		assert.True(t, granted.Elevated)
		assert.NoError(t, risk.Check(risk.Critical, granted))
	})

	t.Run("denied", func(t *testing.T) {
		am := NewApprovalManager(stubApprover{resp: ApprovalResponse{Reason: "nope"}})
		granted, reason, err := am.Approve(context.Background(), confirm)
		require.NoError(t, err)
		assert.Zero(t, granted)
		assert.Equal(t, "nope", reason)
	})

	t.Run("handler error", func(t *testing.T) {
		am := NewApprovalManager(stubApprover{err: errors.New("channel down")})
		granted, _, err := am.Approve(context.Background(), confirm)
		require.Error(t, err)
		assert.Zero(t, granted)
		assert.Contains(t, err.Error(), "channel down")
	})

	t.Run("request timeout", func(t *testing.T) {
		am := NewApprovalManager(stubApprover{resp: approve.resp, delay: time.Second})
		timed := confirm
		timed.Timeout = 20 * time.Millisecond
		granted, _, err := am.Approve(context.Background(), timed)
		assert.ErrorIs(t, err, ErrApprovalTimeout)
		assert.Zero(t, granted)
	})

	t.Run("handler ignoring its context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		am := NewApprovalManager(ApprovalFunc(func(context.Context, ApprovalRequest) (ApprovalResponse, error) {
			<-release
			return ApprovalResponse{Approved: true}, nil
		}))
		am.SetDefaultTimeout(20 * time.Millisecond)
		_, _, err := am.Approve(context.Background(), confirm)
		assert.ErrorIs(t, err, ErrApprovalTimeout)
	})

	t.Run("caller cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		am := NewApprovalManager(stubApprover{resp: approve.resp, delay: time.Second})
		_, _, err := am.Approve(ctx, confirm)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("no handler", func(t *testing.T) {
		_, _, err := NewApprovalManager(nil).Approve(context.Background(), confirm)
		assert.ErrorIs(t, err, ErrNoApprover)

		var am *ApprovalManager
		_, _, err = am.Approve(context.Background(), confirm)
		assert.ErrorIs(t, err, ErrNoApprover)
	})
}

func TestApprovalManager_DefaultTimeout(t *testing.T) {
	am := NewApprovalManager(nil)
	assert.Equal(t, DefaultApprovalTimeout, am.GetDefaultTimeout())
	am.SetDefaultTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, am.GetDefaultTimeout())
}

func TestAutoApproveHandler_Ceiling(t *testing.T) {
	h := AutoApproveHandler{Max: risk.Elevated}

	resp, err := h.RequestApproval(context.Background(), ApprovalRequest{RiskLevel: risk.Elevated})
	require.NoError(t, err)
	assert.True(t, resp.Approved)

	resp, err = h.RequestApproval(context.Background(), ApprovalRequest{RiskLevel: risk.Critical})
	require.NoError(t, err)
	assert.False(t, resp.Approved)

	resp, _ = AutoApproveHandler{}.RequestApproval(context.Background(), ApprovalRequest{RiskLevel: risk.Critical})
	assert.True(t, resp.Approved)
}

func TestCLIApprovalHandler(t *testing.T) {
	confirm := ApprovalRequest{
		ToolID:    "tool_file_writer",
		ToolName:  "file_writer",
		RiskLevel: risk.Elevated,
		Decision:  risk.RequireConfirmation,
		Args:      map[string]any{"path": "/tmp/x"},
		Actor:     "cli",
	}
	elevated := ApprovalRequest{
		ToolID:    "tool_wallet_manager",
		ToolName:  "wallet_manager",
		RiskLevel: risk.Critical,
		Decision:  risk.RequireElevatedApproval,
	}

	tests := []struct {
		name     string
		input    string
		req      ApprovalRequest
		approved bool
		output   string
	}{
		{"confirm yes", "y\n", confirm, true, "TOOL CONFIRMATION REQUIRED"},
		{"confirm YES", "YES\n", confirm, true, "APPROVED"},
		{"confirm no", "n\n", confirm, false, "DENIED"},
		{"confirm empty", "\n", confirm, false, "DENIED"},
		{"confirm garbage", "maybe\n", confirm, false, "Invalid input"},
		{"confirm eof", "", confirm, false, "Run this tool?"},
		{"elevated by name", "wallet_manager\n", elevated, true, "ELEVATED APPROVAL REQUIRED"},
		{"elevated by id", "tool_wallet_manager\n", elevated, true, "APPROVED"},
		{"elevated y is not enough", "y\n", elevated, false, "Invalid input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := NewCLIApprovalHandler(strings.NewReader(tt.input), &out)

			resp, err := h.RequestApproval(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.approved, resp.Approved)
			assert.Contains(t, out.String(), tt.output)
			assert.Contains(t, out.String(), tt.req.ToolID)
		})
	}
}

type blockingReader struct{ done chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.done
	return 0, errors.New("closed")
}

func TestCLIApprovalHandler_ContextTimeout(t *testing.T) {
	reader := blockingReader{done: make(chan struct{})}
	defer close(reader.done)

	var out bytes.Buffer
	h := NewCLIApprovalHandler(reader, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp, err := h.RequestApproval(ctx, ApprovalRequest{ToolID: "tool_x", ToolName: "x", Decision: risk.RequireConfirmation})
	require.Error(t, err)
	assert.False(t, resp.Approved)
	assert.Equal(t, "timeout", resp.Reason)
}

func TestCLIApprovalHandler_SharesBufferedInput(t *testing.T) {
	var out bytes.Buffer
	h := NewCLIApprovalHandler(strings.NewReader("y\nn\n"), &out)
	req := ApprovalRequest{ToolID: "tool_x", ToolName: "x", Decision: risk.RequireConfirmation}

	first, err := h.RequestApproval(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Approved)

	second, err := h.RequestApproval(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Approved)
	assert.Equal(t, "denied by user", second.Reason)
}
