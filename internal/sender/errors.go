package sender

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	ta "github.com/mymmrac/telego/telegoapi"
)

// Bad Request descriptions that mean the chat is gone for good.
var unreachableDescriptions = []string{
	"chat not found",
	"user is deactivated",
}

// isBlocked reports whether the error means the recipient can no longer be reached.
// Only Bot API errors qualify; transport failures never block a recipient.
func isBlocked(err error) bool {
	var apiErr *ta.Error
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode {
	case http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		for _, d := range unreachableDescriptions {
			if strings.Contains(apiErr.Description, d) {
				return true
			}
		}
	}
	return false
}

// retryAfter returns the flood-control wait in seconds, preferring the structured
// response parameters over the error text.
func retryAfter(err error) (int, bool) {
	var apiErr *ta.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode != http.StatusTooManyRequests {
			return 0, false
		}
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			return apiErr.Parameters.RetryAfter, true
		}
	}
	return parseRetryAfter(err.Error())
}

// parseRetryAfter extracts the wait in seconds from a "Too Many Requests" error.
// It accepts both the description form ("retry after 5") and telego's parameters
// form ("retry after: 5").
func parseRetryAfter(errorString string) (int, bool) {
	if !strings.Contains(errorString, "429") && !strings.Contains(errorString, "Too Many Requests") {
		return 0, false
	}

	fields := strings.Fields(errorString)
	for i := len(fields) - 2; i >= 0; i-- {
		if strings.Trim(fields[i], `":,`) != "after" {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(fields[i+1], `":,.`))
		if err == nil && seconds > 0 {
			return seconds, true
		}
	}
	return 0, false
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
