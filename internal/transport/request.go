package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/logging"
)

// errorBody covers the error shapes the catalog is known to return.
type errorBody struct {
	ErrorCode any    `json:"errorcode"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

// DecodeResponse decodes a JSON response into target. Non-2xx responses
// become *errors.APIError. A nil target only checks the status.
func DecodeResponse(resp *http.Response, service string, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close response body")
		}
	}()

	if err := CheckStatus(resp, service); err != nil {
		return err
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapResource("read", "response", endpoint(resp), err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", "response", err)
	}
	return nil
}

// CheckStatus returns an *errors.APIError for non-2xx responses. The body is
// read (bounded) to extract the error message; it is not closed.
func CheckStatus(resp *http.Response, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodySize))
	apiErr := errors.NewAPIError(service, resp.StatusCode, errorMessage(resp, body))
	apiErr.Endpoint = endpoint(resp)
	return apiErr
}

// errorMessage extracts a readable message from an error response body.
func errorMessage(resp *http.Response, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Message != "":
			return eb.Message
		case eb.Error != "":
			return eb.Error
		}
	}

	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

func endpoint(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.Path
}
