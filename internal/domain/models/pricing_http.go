package models

// Requests for pricing HTTP endpoints. Defined in domain for consistency and reuse.

type ForecastRequest struct {
	ProductID string `query:"product_id" json:"product_id" validate:"required"`
}

type ForecastRunRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

type ForecastHistoryRequest struct {
	ProductID string `query:"product_id" json:"product_id" validate:"required"`
	Limit     int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=200"`
}

type AttributionRequest struct {
	ProductID string `query:"product_id" json:"product_id" validate:"required"`
}

type LockCreateRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	DayIndex  int    `json:"day_index" validate:"gte=0,lte=9"`
}

type LockValidateRequest struct {
	LockID string `query:"lock_id" json:"lock_id" validate:"required"`
}

type LockActionRequest struct {
	LockID string `json:"lock_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

type CartAddRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" default:"1" validate:"gte=1"`
	LockID    string `json:"lock_id"`
}

type CartRemoveRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

type CartListRequest struct {
	UserID string `query:"user_id" json:"user_id" validate:"required"`
}
