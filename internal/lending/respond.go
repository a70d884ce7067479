package lending

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/tools"
)

type errorBody struct {
	Type      string   `json:"type"`
	Code      int      `json:"code"`
	Message   string   `json:"message"`
	Available []string `json:"available,omitempty"`
}

type failureReport struct {
	*actionReport
	Error errorBody `json:"error"`
}

// failure converts err into a response. A network mismatch is a warning, every
// other failure is an error.
func (s *Service) failure(tool string, report *actionReport, err error) tools.Response {
	body := errorBody{Type: clierr.TypeName(clierr.CodeInternal), Code: int(clierr.CodeInternal), Message: err.Error()}
	if cErr, ok := clierr.As(err); ok {
		body.Type = clierr.TypeName(cErr.Code)
		body.Code = int(cErr.Code)
		body.Available = cErr.Available
	}

	outcome := tools.OutcomeError
	summary := fmt.Sprintf("%s failed on %s: %s", tool, report.Network, body.Message)
	if clierr.Is(err, clierr.CodeNetworkMismatch) {
		outcome = tools.OutcomeWarning
		summary = fmt.Sprintf("%s was not sent. Network mismatch on %s: %s", tool, report.Network, body.Message)
	} else if len(body.Available) > 0 && !strings.Contains(body.Message, body.Available[0]) {
		summary += fmt.Sprintf(" (available on %s: %s)", report.Network, strings.Join(body.Available, ", "))
	}

	s.logger.Warn("lending tool failed", "tool", tool, "network", report.Network, "error_type", body.Type, "error", body.Message)
	return tools.Response{Raw: failureReport{actionReport: report, Error: body}, Summary: summary, Outcome: outcome, Err: err}
}
