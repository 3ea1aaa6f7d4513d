package booking

import (
	"fmt"

	"slotkeeper/models"
	"slotkeeper/utils"
)

const (
	msgMissingSession   = "I couldn't tell which conversation this is. Please start again."
	msgAvailable        = "Here are the open times."
	msgSlotAvailable    = "That time is available."
	msgNoneAvailable    = "There are no open times for that right now."
	msgTaken            = "Sorry, that time was just taken."
	msgHeld             = "I've held that time for you and sent a confirmation code."
	msgHeldNoCode       = "I've held that time for you, but couldn't send a code yet. Ask to confirm and I'll send a new one."
	msgAlreadyHeld      = "That time is already held for you."
	msgCodeResent       = "I've sent you a new confirmation code."
	msgCodeNotSent      = "I couldn't send a code right now. Please try again in a moment."
	msgVerifyLater      = "I couldn't check that code right now. Please try again in a moment."
	msgTooManyAttempts  = "That code didn't match too many times, so I released the reservation."
	msgCommitRetry      = "I couldn't finish the booking just now. I've sent a new code, please try again."
	msgBooked           = "You're booked. A confirmation is on its way."
	msgExpired          = "Sorry, the reservation expired before it was confirmed."
	msgSessionFailed    = "This booking couldn't be completed. Please start a new one."
	msgReservationGone  = "Your reservation has been cancelled."
	msgAppointmentGone  = "Your appointment has been cancelled."
	msgNothingToCancel  = "There was nothing to cancel."
	msgNothingToConfirm = "There's no reserved time to confirm yet."
	msgConfirmPending   = "I'm still checking your code. One moment please."
)

func codeMismatch(left int) string {
	if left == 1 {
		return "That code didn't match. You have 1 attempt left."
	}
	return fmt.Sprintf("That code didn't match. You have %d attempts left.", left)
}

// errorResponse maps an error to a canned message. Internal detail stays in
// the logs.
func errorResponse(err error) models.ToolCallResponse {
	resp := models.ToolCallResponse{Outcome: models.OutcomeError}
	switch utils.KindOf(err) {
	case utils.KindConflict:
		resp.Outcome = models.OutcomeConflict
		resp.Message = msgTaken
	case utils.KindExpired:
		resp.Outcome = models.OutcomeExpired
		resp.Message = msgExpired
	case utils.KindValidation:
		resp.Message = "Some of the details provided aren't valid. Please start a new booking."
	case utils.KindUnauthorized:
		resp.Message = "This request couldn't be authorised."
	case utils.KindTransition:
		resp.Message = "That step isn't possible right now."
	default:
		resp.Message = "We're having trouble right now. Please try again in a moment."
	}
	return resp
}

// terminalResponse reports an interaction that has already finished.
func terminalResponse(it *models.Interaction) models.ToolCallResponse {
	switch it.State {
	case models.StateBooked:
		return models.ToolCallResponse{
			Outcome: models.OutcomeBooked,
			Message: msgBooked,
			Data:    models.ToolCallData{AppointmentID: it.AppointmentID},
		}
	case models.StateExpired:
		return models.ToolCallResponse{Outcome: models.OutcomeExpired, Message: msgExpired}
	}
	return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgSessionFailed}
}

// eventOutcome turns a state machine response into the outcome recorded by
// the idempotency guard.
func eventOutcome(resp models.ToolCallResponse) models.EventOutcome {
	out := models.EventOutcome{
		Result:  models.EventResultSucceeded,
		Message: resp.Message,
		Data:    map[string]string{"outcome": string(resp.Outcome)},
	}
	if resp.Data.AppointmentID != "" {
		out.Data["appointment_id"] = resp.Data.AppointmentID
	}
	if resp.Data.HoldID != "" {
		out.Data["hold_id"] = resp.Data.HoldID
	}
	return out
}
