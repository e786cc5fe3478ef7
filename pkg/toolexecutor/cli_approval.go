package toolexecutor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/rs/zerolog/log"
)

// CLIApprovalHandler asks the user at a terminal. Confirmation is answered
// with y/yes; elevated approval requires typing the tool name or id.
type CLIApprovalHandler struct {
	mu     sync.Mutex
	reader *bufio.Reader
	writer io.Writer
}

// NewCLIApprovalHandler creates a handler reading answers from reader.
// One reader is shared across prompts so buffered input is not lost.
func NewCLIApprovalHandler(reader io.Reader, writer io.Writer) *CLIApprovalHandler {
	return &CLIApprovalHandler{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

type cliPrompt struct {
	title    string
	question string
	accepts  func(answer string) bool
}

func promptFor(req ApprovalRequest) cliPrompt {
	if req.Decision == risk.RequireElevatedApproval {
		return cliPrompt{
			title:    "ELEVATED APPROVAL REQUIRED",
			question: fmt.Sprintf("Type the tool name (%s) to approve: ", req.ToolName),
			accepts: func(answer string) bool {
				return answer != "" && (answer == req.ToolName || answer == req.ToolID)
			},
		}
	}
	return cliPrompt{
		title:    "TOOL CONFIRMATION REQUIRED",
		question: "Run this tool? [y/N]: ",
		accepts: func(answer string) bool {
			answer = strings.ToLower(answer)
			return answer == "y" || answer == "yes"
		},
	}
}

// RequestApproval prompts once per request. Prompts are serialized.
func (c *CLIApprovalHandler) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := promptFor(req)
	c.describe(p.title, req)
	fmt.Fprint(c.writer, "  "+p.question)

	type line struct {
		text string
		err  error
	}
	read := make(chan line, 1)
	go func() {
		text, err := c.reader.ReadString('\n')
		read <- line{text, err}
	}()

	var answer string
	select {
	case l := <-read:
		if l.err != nil && !errors.Is(l.err, io.EOF) {
			return ApprovalResponse{}, fmt.Errorf("failed to read input: %w", l.err)
		}
		answer = strings.TrimSpace(l.text)
		if l.err != nil && answer == "" {
			c.say("No input, DENIED")
			return ApprovalResponse{Reason: "no input provided"}, nil
		}
	case <-ctx.Done():
		c.say("Approval request TIMED OUT")
		return ApprovalResponse{Reason: "timeout"}, ctx.Err()
	}

	logger := log.With().Str("tool", req.ToolID).Str("decision", string(req.Decision)).Logger()
	switch lower := strings.ToLower(answer); {
	case p.accepts(answer):
		c.say("APPROVED")
		logger.Info().Msg("Tool approved at terminal")
		return ApprovalResponse{Approved: true, Reason: "approved by user"}, nil
	case lower == "" || lower == "n" || lower == "no":
		c.say("DENIED")
		logger.Info().Msg("Tool denied at terminal")
		return ApprovalResponse{Reason: "denied by user"}, nil
	default:
		c.say(fmt.Sprintf("Invalid input: %s (defaulting to DENY)", answer))
		logger.Warn().Str("input", answer).Msg("Invalid approval input")
		return ApprovalResponse{Reason: "invalid input: " + answer}, nil
	}
}

func (c *CLIApprovalHandler) describe(title string, req ApprovalRequest) {
	rows := [][2]string{
		{"Tool", fmt.Sprintf("%s (%s)", req.ToolName, req.ToolID)},
		{"Risk", fmt.Sprintf("%d (%s)", int(req.RiskLevel), req.RiskLevel)},
		{"About", req.Description},
		{"Actor", req.Actor},
	}
	if req.Timeout > 0 {
		rows = append(rows, [2]string{"Timeout", req.Timeout.String()})
	}
	if len(req.Args) > 0 {
		if data, err := json.Marshal(req.Args); err == nil {
			rows = append(rows, [2]string{"Args", string(data)})
		}
	}

	fmt.Fprintf(c.writer, "\n  == %s ==\n\n", title)
	for _, row := range rows {
		if row[1] != "" {
			fmt.Fprintf(c.writer, "  %-11s %s\n", row[0]+":", row[1])
		}
	}
	fmt.Fprintln(c.writer)
}

func (c *CLIApprovalHandler) say(msg string) {
	fmt.Fprintf(c.writer, "\n\n  %s\n\n", msg)
}
