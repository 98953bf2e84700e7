package signal

const (
	// EventSubscriptionsData is sent when a polled subscription value changed.
	EventSubscriptionsData = "subscriptions.data"

	// EventSubscriptionsError is sent when polling a subscription failed.
	EventSubscriptionsError = "subscriptions.error"
)

type SubscriptionDataEvent struct {
	FilterID string      `json:"subscription_id"`
	Data     interface{} `json:"data"`
}

type SubscriptionErrorEvent struct {
	FilterID     string `json:"subscription_id"`
	ErrorMessage string `json:"error_message"`
}

func SendSubscriptionDataEvent(filterID string, data interface{}) {
	send(EventSubscriptionsData, SubscriptionDataEvent{
		FilterID: filterID,
		Data:     data,
	})
}

func SendSubscriptionErrorEvent(filterID string, err error) {
	send(EventSubscriptionsError, SubscriptionErrorEvent{
		FilterID:     filterID,
		ErrorMessage: err.Error(),
	})
}
