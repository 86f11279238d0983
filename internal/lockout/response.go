package lockout

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type lockedPayload struct {
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	Locked           bool   `json:"locked"`
	RemainingMinutes int    `json:"remainingMinutes"`
	Message          string `json:"message"`
}

// WriteLocked renders the fixed 423 contract for a locked account.
func WriteLocked(w http.ResponseWriter, status Status) {
	unit := "minutes"
	if status.RemainingMinutes == 1 {
		unit = "minute"
	}

	payload := lockedPayload{
		Success:          false,
		Error:            "account temporarily locked",
		Locked:           true,
		RemainingMinutes: status.RemainingMinutes,
		Message:          fmt.Sprintf("Account is locked due to repeated failed logins. Try again in %d %s.", status.RemainingMinutes, unit),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusLocked)
	_ = json.NewEncoder(w).Encode(payload)
}
