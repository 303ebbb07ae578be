package shipping

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/circuitbreaker"
	"github.com/bradjohnson79/anointarray-sub003/models"
)

var postalCodeRe = regexp.MustCompile(`^[A-Za-z]\d[A-Za-z]\s?\d[A-Za-z]\d$`)

// Leading postal district letter to province. Quebec and Ontario span
// several districts.
var provinceByDistrict = map[byte]string{
	'A': "NL", 'B': "NS", 'C': "PE", 'E': "NB",
	'G': "QC", 'H': "QC", 'J': "QC",
	'K': "ON", 'L': "ON", 'M': "ON", 'N': "ON", 'P': "ON",
	'R': "MB", 'S': "SK", 'T': "AB", 'V': "BC",
	'X': "NT", 'Y': "YT",
}

type carrierService struct {
	name        string
	baseRate    float64
	transitDays int
}

var canadaPostServices = []carrierService{
	{"Regular Parcel", 12.99, 5},
	{"Expedited Parcel", 16.49, 3},
	{"Xpresspost", 24.99, 2},
	{"Priority", 42.99, 1},
}

var upsServices = []carrierService{
	{"UPS Standard", 14.25, 4},
	{"UPS Expedited", 21.50, 3},
	{"UPS Express Saver", 28.75, 2},
	{"UPS Express", 36.99, 1},
}

const (
	interprovincialFactor  = 1.55
	interprovincialTransit = 2
	weightThresholdKG      = 2.0
	surchargePerKG         = 2.75
)

// Aggregator merges flat-rate quotes from both carriers, price-sorted.
// Each carrier lookup runs behind its own circuit breaker; if either
// carrier fails the whole aggregation fails.
type Aggregator struct {
	cpBreaker  *circuitbreaker.CircuitBreaker
	upsBreaker *circuitbreaker.CircuitBreaker
	now        func() time.Time
	logger     *zap.Logger
}

func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		cpBreaker:  circuitbreaker.New("canada-post", 5, 30*time.Second),
		upsBreaker: circuitbreaker.New("ups", 5, 30*time.Second),
		now:        time.Now,
		logger:     logger,
	}
}

func (a *Aggregator) GetRates(ctx context.Context, req models.RateRequest) ([]models.Rate, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	sameProvince := provinceOf(req.OriginPostalCode) != "" &&
		provinceOf(req.OriginPostalCode) == provinceOf(req.DestinationPostalCode)
	weight := totalWeight(req.Packages)

	var wg sync.WaitGroup
	results := make([][]models.Rate, 2)
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = a.cpBreaker.Execute(ctx, func(ctx context.Context) error {
			rates, err := quote(ctx, "Canada Post", canadaPostServices, sameProvince, weight, a.now())
			results[0] = rates
			return err
		})
	}()
	go func() {
		defer wg.Done()
		errs[1] = a.upsBreaker.Execute(ctx, func(ctx context.Context) error {
			rates, err := quote(ctx, "UPS", upsServices, sameProvince, weight, a.now())
			results[1] = rates
			return err
		})
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			a.logger.Error("Carrier rate lookup failed",
				zap.String("carrier", []string{"Canada Post", "UPS"}[i]),
				zap.Error(err),
			)
			return nil, fmt.Errorf("carrier rate lookup failed: %w", err)
		}
	}

	rates := append(results[0], results[1]...)
	sort.Slice(rates, func(i, j int) bool { return rates[i].Price < rates[j].Price })
	return rates, nil
}

func quote(ctx context.Context, carrier string, services []carrierService, sameProvince bool, weight float64, now time.Time) ([]models.Rate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	factor := 1.0
	extraTransit := 0
	if !sameProvince {
		factor = interprovincialFactor
		extraTransit = interprovincialTransit
	}

	surcharge := 0.0
	if weight > weightThresholdKG {
		surcharge = (weight - weightThresholdKG) * surchargePerKG
	}

	rates := make([]models.Rate, 0, len(services))
	for _, svc := range services {
		transit := svc.transitDays + extraTransit
		rates = append(rates, models.Rate{
			Carrier:      carrier,
			Service:      svc.name,
			Price:        round2(svc.baseRate*factor + surcharge),
			Currency:     "CAD",
			TransitDays:  transit,
			DeliveryDate: addBusinessDays(now, transit).Format("2006-01-02"),
		})
	}
	return rates, nil
}

func validate(req models.RateRequest) error {
	if !postalCodeRe.MatchString(req.OriginPostalCode) {
		return &models.ValidationError{Field: "origin_postal_code", Reason: "not a valid Canadian postal code"}
	}
	if !postalCodeRe.MatchString(req.DestinationPostalCode) {
		return &models.ValidationError{Field: "destination_postal_code", Reason: "not a valid Canadian postal code"}
	}
	if len(req.Packages) == 0 {
		return &models.ValidationError{Field: "packages", Reason: "at least one package is required"}
	}
	for i, p := range req.Packages {
		if p.LengthCM <= 0 || p.WidthCM <= 0 || p.HeightCM <= 0 {
			return &models.ValidationError{Field: "packages", Reason: fmt.Sprintf("package %d has non-positive dimensions", i)}
		}
		if p.WeightKG <= 0 {
			return &models.ValidationError{Field: "packages", Reason: fmt.Sprintf("package %d has non-positive weight", i)}
		}
	}
	return nil
}

func provinceOf(postalCode string) string {
	code := strings.ToUpper(strings.TrimSpace(postalCode))
	if code == "" {
		return ""
	}
	return provinceByDistrict[code[0]]
}

func totalWeight(packages []models.Package) float64 {
	total := 0.0
	for _, p := range packages {
		total += p.WeightKG
	}
	return total
}

// addBusinessDays skips weekends so quoted delivery always lands on a
// weekday.
func addBusinessDays(from time.Time, days int) time.Time {
	date := from
	for days > 0 {
		date = date.AddDate(0, 0, 1)
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			continue
		}
		days--
	}
	return date
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
