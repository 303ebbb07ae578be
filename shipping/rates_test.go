package shipping

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

func testAggregator(t *testing.T) *Aggregator {
	a := NewAggregator(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
	// Wednesday 2025-06-04, so short transits stay within the work week.
	a.now = func() time.Time {
		return time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	}
	return a
}

func onePackage(weightKG float64) []models.Package {
	return []models.Package{{LengthCM: 30, WidthCM: 20, HeightCM: 10, WeightKG: weightKG}}
}

func TestGetRates_SameProvince(t *testing.T) {
	a := testAggregator(t)

	rates, err := a.GetRates(context.Background(), models.RateRequest{
		OriginPostalCode:      "K1A 0B1",
		DestinationPostalCode: "M5V 3L9",
		Packages:              onePackage(1.0),
	})
	if err != nil {
		t.Fatalf("GetRates failed: %v", err)
	}

	if len(rates) != 8 {
		t.Fatalf("Expected 8 rates (4 per carrier), got %d", len(rates))
	}
	for i := 1; i < len(rates); i++ {
		if rates[i].Price < rates[i-1].Price {
			t.Errorf("Rates not sorted ascending: %v before %v", rates[i-1].Price, rates[i].Price)
		}
	}

	// Same province, under the weight threshold: cheapest is the
	// Canada Post base rate untouched.
	if rates[0].Carrier != "Canada Post" || rates[0].Service != "Regular Parcel" {
		t.Errorf("Expected cheapest rate to be Canada Post Regular Parcel, got %s %s", rates[0].Carrier, rates[0].Service)
	}
	if rates[0].Price != 12.99 {
		t.Errorf("Expected base price 12.99, got %v", rates[0].Price)
	}

	for _, r := range rates {
		if r.Currency != "CAD" {
			t.Errorf("Expected CAD currency, got %q", r.Currency)
		}
		d, err := time.Parse("2006-01-02", r.DeliveryDate)
		if err != nil {
			t.Errorf("Delivery date %q is not YYYY-MM-DD: %v", r.DeliveryDate, err)
			continue
		}
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			t.Errorf("Delivery date %s falls on a weekend", r.DeliveryDate)
		}
	}
}

func TestGetRates_InterprovincialSurcharge(t *testing.T) {
	a := testAggregator(t)

	same, err := a.GetRates(context.Background(), models.RateRequest{
		OriginPostalCode:      "K1A0B1",
		DestinationPostalCode: "M5V3L9",
		Packages:              onePackage(1.0),
	})
	if err != nil {
		t.Fatalf("GetRates (same province) failed: %v", err)
	}

	cross, err := a.GetRates(context.Background(), models.RateRequest{
		OriginPostalCode:      "K1A0B1",
		DestinationPostalCode: "V6B1A1",
		Packages:              onePackage(1.0),
	})
	if err != nil {
		t.Fatalf("GetRates (interprovincial) failed: %v", err)
	}

	if cross[0].Price <= same[0].Price {
		t.Errorf("Interprovincial rate %v should exceed same-province rate %v", cross[0].Price, same[0].Price)
	}
	// 12.99 * 1.55 rounded to cents.
	if cross[0].Price != 20.13 {
		t.Errorf("Expected interprovincial base 20.13, got %v", cross[0].Price)
	}
	if cross[0].TransitDays != same[0].TransitDays+2 {
		t.Errorf("Expected +2 transit days interprovincial, got %d vs %d", cross[0].TransitDays, same[0].TransitDays)
	}
}

func TestGetRates_WeightSurcharge(t *testing.T) {
	a := testAggregator(t)

	rates, err := a.GetRates(context.Background(), models.RateRequest{
		OriginPostalCode:      "K1A0B1",
		DestinationPostalCode: "M5V3L9",
		Packages:              onePackage(4.0),
	})
	if err != nil {
		t.Fatalf("GetRates failed: %v", err)
	}

	// 12.99 + (4.0 - 2.0) * 2.75 = 18.49
	if rates[0].Price != 18.49 {
		t.Errorf("Expected surcharged price 18.49, got %v", rates[0].Price)
	}
}

func TestGetRates_DeliverySkipsWeekend(t *testing.T) {
	a := testAggregator(t)
	// Friday; a 1-day transit must land on Monday.
	a.now = func() time.Time {
		return time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC)
	}

	rates, err := a.GetRates(context.Background(), models.RateRequest{
		OriginPostalCode:      "K1A0B1",
		DestinationPostalCode: "M5V3L9",
		Packages:              onePackage(1.0),
	})
	if err != nil {
		t.Fatalf("GetRates failed: %v", err)
	}

	for _, r := range rates {
		if r.TransitDays == 1 && r.DeliveryDate != "2025-06-09" {
			t.Errorf("1-day transit from Friday should deliver Monday 2025-06-09, got %s (%s %s)", r.DeliveryDate, r.Carrier, r.Service)
		}
	}
}

func TestGetRates_Validation(t *testing.T) {
	a := testAggregator(t)

	tests := []struct {
		name string
		req  models.RateRequest
	}{
		{"bad origin", models.RateRequest{OriginPostalCode: "12345", DestinationPostalCode: "M5V3L9", Packages: onePackage(1)}},
		{"bad destination", models.RateRequest{OriginPostalCode: "K1A0B1", DestinationPostalCode: "90210", Packages: onePackage(1)}},
		{"no packages", models.RateRequest{OriginPostalCode: "K1A0B1", DestinationPostalCode: "M5V3L9"}},
		{"zero weight", models.RateRequest{OriginPostalCode: "K1A0B1", DestinationPostalCode: "M5V3L9", Packages: []models.Package{{LengthCM: 10, WidthCM: 10, HeightCM: 10}}}},
		{"negative dimension", models.RateRequest{OriginPostalCode: "K1A0B1", DestinationPostalCode: "M5V3L9", Packages: []models.Package{{LengthCM: -1, WidthCM: 10, HeightCM: 10, WeightKG: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.GetRates(context.Background(), tt.req)
			var vErr *models.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestProvinceOf(t *testing.T) {
	tests := []struct {
		code     string
		province string
	}{
		{"K1A0B1", "ON"},
		{"m5v 3l9", "ON"},
		{"H2X1Y4", "QC"},
		{"V6B1A1", "BC"},
		{"T2P0A1", "AB"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := provinceOf(tt.code); got != tt.province {
			t.Errorf("provinceOf(%q): expected %q, got %q", tt.code, tt.province, got)
		}
	}
}
