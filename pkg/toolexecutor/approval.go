package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainlesschain/skilltools/internal/tracing"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/rs/zerolog/log"
)

// DefaultApprovalTimeout bounds one out-of-band approval request.
const DefaultApprovalTimeout = 60 * time.Second

var (
	// ErrNoApprover is returned when no approval channel is configured.
	ErrNoApprover = errors.New("no approval handler configured")
	// ErrApprovalTimeout is returned when the channel does not answer in time.
	ErrApprovalTimeout = errors.New("approval request timed out")
)

// ApprovalRequest asks an out-of-band channel to approve one risky call.
type ApprovalRequest struct {
	InvocationID string         `json:"invocation_id"`
	ToolID       string         `json:"tool_id"`
	ToolName     string         `json:"tool_name"`
	Description  string         `json:"description,omitempty"`
	RiskLevel    risk.Level     `json:"risk_level"`
	Decision     risk.Decision  `json:"decision"`
	Args         map[string]any `json:"args,omitempty"`
	Actor        string         `json:"actor,omitempty"`
	Timeout      time.Duration  `json:"timeout"`
}

// ApprovalResponse is the channel's answer.
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ApprovalHandler is an approval channel: a terminal prompt, a chat bot, a
// policy service.
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}

// ApprovalFunc adapts a function to ApprovalHandler.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)

// RequestApproval implements ApprovalHandler.
func (f ApprovalFunc) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	return f(ctx, req)
}

// AutoApproveHandler approves requests up to a ceiling risk level without
// user interaction. A zero Max approves everything.
type AutoApproveHandler struct {
	Max risk.Level
}

// RequestApproval implements ApprovalHandler.
func (h AutoApproveHandler) RequestApproval(_ context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	if h.Max != 0 && req.RiskLevel > h.Max {
		return ApprovalResponse{Reason: "above auto-approval ceiling " + h.Max.String()}, nil
	}
	return ApprovalResponse{Approved: true, Reason: "auto-approved"}, nil
}

// ApprovalManager turns a channel's answer into the risk.Approval a call
// needs. An approved RequireConfirmation request grants Confirmed; an
// approved RequireElevatedApproval request grants Elevated.
type ApprovalManager struct {
	handler        ApprovalHandler
	defaultTimeout time.Duration
}

// NewApprovalManager creates a manager around handler.
func NewApprovalManager(handler ApprovalHandler) *ApprovalManager {
	return &ApprovalManager{
		handler:        handler,
		defaultTimeout: DefaultApprovalTimeout,
	}
}

// SetDefaultTimeout sets the timeout used when a request carries none.
func (am *ApprovalManager) SetDefaultTimeout(timeout time.Duration) {
	am.defaultTimeout = timeout
}

// GetDefaultTimeout returns the default timeout
func (am *ApprovalManager) GetDefaultTimeout() time.Duration {
	return am.defaultTimeout
}

// Approve asks the channel about req. The returned approval is zero unless
// the channel approved before the timeout; the string is the channel's reason.
func (am *ApprovalManager) Approve(ctx context.Context, req ApprovalRequest) (risk.Approval, string, error) {
	if am == nil || am.handler == nil {
		return risk.Approval{}, "", ErrNoApprover
	}
	if req.Timeout <= 0 {
		req.Timeout = am.defaultTimeout
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("tool", req.ToolID).
		Str("decision", string(req.Decision)).
		Logger()
	logger.Info().Int("risk_level", int(req.RiskLevel)).Msg("Requesting approval")

	resp, err := am.ask(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Approval request failed")
		return risk.Approval{}, "", err
	}
	if !resp.Approved {
		logger.Warn().Str("reason", resp.Reason).Msg("Approval denied")
		return risk.Approval{}, resp.Reason, nil
	}

	logger.Info().Str("reason", resp.Reason).Msg("Approval granted")
	return grantFor(req.Decision), resp.Reason, nil
}

// ask runs the handler under req.Timeout. A handler that ignores its context
// is abandoned when the timeout fires.
func (am *ApprovalManager) ask(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	type answer struct {
		resp ApprovalResponse
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		resp, err := am.handler.RequestApproval(ctx, req)
		done <- answer{resp, err}
	}()

	select {
	case a := <-done:
		if a.err == nil {
			return a.resp, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ApprovalResponse{}, fmt.Errorf("%w after %v", ErrApprovalTimeout, req.Timeout)
		}
		return ApprovalResponse{}, fmt.Errorf("approval request failed: %w", a.err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ApprovalResponse{}, fmt.Errorf("%w after %v", ErrApprovalTimeout, req.Timeout)
		}
		return ApprovalResponse{}, ctx.Err()
	}
}

func grantFor(d risk.Decision) risk.Approval {
	switch d {
	case risk.RequireElevatedApproval:
		return risk.Approval{Confirmed: true, Elevated: true}
	case risk.RequireConfirmation:
		return risk.Approval{Confirmed: true}
	}
	return risk.Approval{}
}
