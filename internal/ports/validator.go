package ports

import "github.com/ghalamif/ColdAnchor/internal/domain"

type Validator interface {
	Validate(routingKey string, body []byte) (domain.SensorEvent, error)
}
