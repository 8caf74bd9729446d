package mailsmodels

import (
	"fmt"
	"html"

	"fanrealms-backend/models"
	"fanrealms-backend/utils"
)

type CommissionStatusUpdateData struct {
	Email           string
	UserName        string
	CommissionTitle string
	Status          models.CommissionStatus
}

func commissionStatusLabel(status models.CommissionStatus) string {
	switch status {
	case models.CommissionAccepted:
		return "Accepted"
	case models.CommissionRejected:
		return "Declined"
	case models.CommissionRefunded:
		return "Refunded"
	case models.CommissionDelivered:
		return "Delivered"
	case models.CommissionCompleted:
		return "Completed"
	case models.CommissionInProgress:
		return "In progress"
	case models.CommissionRevisionRequested:
		return "Revision requested"
	default:
		return string(status)
	}
}

func commissionStatusMessage(status models.CommissionStatus) string {
	switch status {
	case models.CommissionAccepted:
		return "The creator accepted your request and your payment has been captured."
	case models.CommissionRejected:
		return "The creator declined your request. The authorization on your card has been released."
	case models.CommissionRefunded:
		return "Your payment has been refunded. It can take a few days to appear on your statement."
	case models.CommissionDelivered:
		return "Your commission has been delivered. Review it from your commissions page."
	default:
		return "Open your commissions page to see the details."
	}
}

func CommissionStatusUpdate(data CommissionStatusUpdateData) error {
	label := commissionStatusLabel(data.Status)
	subject := fmt.Sprintf("Your commission \"%s\" is now %s", data.CommissionTitle, label)
	body := layout("Commission update",
		paragraph(fmt.Sprintf("Hello %s,", html.EscapeString(data.UserName)))+
			paragraph(fmt.Sprintf("New status of <b>%s</b>: %s", html.EscapeString(data.CommissionTitle), label))+
			paragraph(commissionStatusMessage(data.Status)))
	return utils.SendMail(data.Email, subject, body)
}
