package reporting

// AttemptSummaryRequest requests a status roll-up for one campaign.
// Workspace isolation: WorkspaceID is required.

type AttemptSummaryRequest struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`
}

type AttemptSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`

	TotalAttempts    int `json:"total_attempts"`
	AwaitingPickup   int `json:"awaiting_pickup"`
	Connected        int `json:"connected"`
	Expired          int `json:"expired"`
	NoAnswer         int `json:"no_answer"`
	RetriesScheduled int `json:"retries_scheduled"`
	Exhausted        int `json:"exhausted"`
	Cancelled        int `json:"cancelled"`

	// RetriesToday counts retry attempts placed today, midnight-anchored
	// like the daily cap.
	RetriesToday int `json:"retries_today"`

	ConnectionRate float64 `json:"connection_rate"`
}
