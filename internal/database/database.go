package database

import (
	"errors"

	"tg-crm/internal/database/models"
)

// ErrBroadcastNotFound is returned when a broadcast is not found.
var ErrBroadcastNotFound = errors.New("broadcast not found")

// ErrUnknownStatus is returned by ledgers for a status outside the delivery taxonomy.
var ErrUnknownStatus = errors.New("unknown delivery status")

func validStatus(s models.DeliveryStatus) bool {
	switch s {
	case models.DeliveryPending, models.DeliverySent, models.DeliveryFailed:
		return true
	}
	return false
}

func addCount(counts *models.StatusCounts, status string, n int) {
	switch models.DeliveryStatus(status) {
	case models.DeliveryPending:
		counts.Pending += n
	case models.DeliverySent:
		counts.Sent += n
	case models.DeliveryFailed:
		counts.Failed += n
	}
}
