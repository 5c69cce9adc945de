package domain

// Named external services sharing a rate-limit budget.
const (
	ServiceWeather      = "weather"
	ServicePlatformMAds = "platform_m_ads"
	ServicePlatformGAds = "platform_g_ads"
)

// Endpoints within a service, used to scope backoff gates.
const (
	EndpointCurrentWeather = "current_weather"
	EndpointAdSetUpdate    = "adset_update"
	EndpointCampaignUpdate = "campaign_update"
)
