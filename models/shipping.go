package models

type Package struct {
	LengthCM float64 `json:"length_cm" binding:"required"`
	WidthCM  float64 `json:"width_cm" binding:"required"`
	HeightCM float64 `json:"height_cm" binding:"required"`
	WeightKG float64 `json:"weight_kg" binding:"required"`
}

type RateRequest struct {
	OriginPostalCode      string    `json:"origin_postal_code" binding:"required"`
	DestinationPostalCode string    `json:"destination_postal_code" binding:"required"`
	Packages              []Package `json:"packages" binding:"required"`
}

type Rate struct {
	Carrier      string  `json:"carrier"`
	Service      string  `json:"service"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	TransitDays  int     `json:"transit_days"`
	DeliveryDate string  `json:"delivery_date"` // YYYY-MM-DD, always a weekday
}
