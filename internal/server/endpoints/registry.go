package endpoints

import (
	"github.com/jackzampolin/pdfmark/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Conversion endpoints
		&SubmitConversionEndpoint{},
		&ListConversionsEndpoint{},
		&GetConversionEndpoint{},
		&ConversionResultEndpoint{},
		&ConversionChunksEndpoint{},
		&ConversionUsageEndpoint{},
		&CancelConversionEndpoint{},
		&DeleteConversionEndpoint{},
	}
}
