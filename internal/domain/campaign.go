package domain

// Counter names a per-campaign aggregate. Counters are monotonically
// increasing and incremented atomically on the store, never held as
// in-process mutable state, so multiple processor instances stay correct.
type Counter string

const (
	CounterDelivered     Counter = "delivered_count"
	CounterOpened        Counter = "open_count"
	CounterUniqueOpened  Counter = "unique_open_count"
	CounterClicked       Counter = "click_count"
	CounterUniqueClicked Counter = "unique_click_count"
	CounterBounced       Counter = "bounce_count"
	CounterUnsubscribed  Counter = "unsubscribe_count"
	CounterSpamReports   Counter = "complaint_count"
)

// CampaignCounters is a read model of one campaign's aggregates.
type CampaignCounters struct {
	CampaignID    string `json:"campaign_id" db:"campaign_id"`
	Delivered     int64  `json:"delivered" db:"delivered_count"`
	Opened        int64  `json:"opened" db:"open_count"`
	UniqueOpened  int64  `json:"unique_opened" db:"unique_open_count"`
	Clicked       int64  `json:"clicked" db:"click_count"`
	UniqueClicked int64  `json:"unique_clicked" db:"unique_click_count"`
	Bounced       int64  `json:"bounced" db:"bounce_count"`
	Unsubscribed  int64  `json:"unsubscribed" db:"unsubscribe_count"`
	SpamReports   int64  `json:"spam_reports" db:"complaint_count"`
}
