package agent

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"syscall"

	"fraudchat/models"

	"github.com/invopop/jsonschema"
)

// ToolSpec is one entry of the catalog advertised to the reasoning service.
type ToolSpec struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

type Request struct {
	System   string
	Messages []models.AgentMessage
	Tools    []ToolSpec
}

type Response struct {
	Model      string
	StopReason string
	Parts      []models.Part
}

func (r *Response) Message() models.AgentMessage {
	return models.AgentMessage{Role: models.RoleAssistant, Parts: r.Parts}
}

// Reasoner is the external reasoning service. Implementations make exactly one
// request per call and report failures as *ServiceError so the caller can
// decide whether to retry.
type Reasoner interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

var (
	statusPattern = regexp.MustCompile(`(?i)(?:status code:?|status|error) (\d{3})\b`)
	grpcPattern   = regexp.MustCompile(`code = (\w+)`)
)

// grpcStatus maps the gRPC codes the Gemini client reports to HTTP statuses.
var grpcStatus = map[string]int{
	"InvalidArgument":   http.StatusBadRequest,
	"Unauthenticated":   http.StatusUnauthorized,
	"PermissionDenied":  http.StatusForbidden,
	"NotFound":          http.StatusNotFound,
	"ResourceExhausted": http.StatusTooManyRequests,
	"Internal":          http.StatusInternalServerError,
	"Unavailable":       http.StatusServiceUnavailable,
	"DeadlineExceeded":  http.StatusGatewayTimeout,
}

// statusFromMessage extracts an HTTP status from clients that only report it
// in the error text.
func statusFromMessage(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		if g := grpcPattern.FindStringSubmatch(msg); g != nil {
			return grpcStatus[g[1]]
		}
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}

// isTransportError reports whether err came from the connection rather than
// from building the request or reading a well-formed reply.
func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET)
}
