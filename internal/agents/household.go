package agents

import "math"

// Household supplies one unit of labor and spends out of income and wealth.
type Household struct {
	ID       HouseholdID `json:"id"`
	Wealth   float64     `json:"wealth"`
	Employed bool        `json:"employed"`
	Employer FirmID      `json:"employer"`

	// Flows of the current step, cleared by Step.
	Income             float64 `json:"income"`
	WelfareReceived    float64 `json:"welfare_received"`
	PlannedConsumption float64 `json:"planned_consumption"`
	Consumption        float64 `json:"consumption"`
	QuantityConsumed   float64 `json:"quantity_consumed"`
	TaxesPaid          float64 `json:"taxes_paid"`

	PropensityToConsume float64 `json:"propensity_to_consume"`
}

// NewHousehold creates an unemployed household with the given wealth.
func NewHousehold(id HouseholdID, wealth, mpc float64) *Household {
	return &Household{
		ID:                  id,
		Wealth:              wealth,
		Employer:            NoEmployer,
		PropensityToConsume: mpc,
	}
}

// SeekEmployment puts the household back in the unemployed pool.
func (h *Household) SeekEmployment() {
	h.Employed = false
	h.Employer = NoEmployer
	h.Income = 0
}

// GetEmployed records a match with firm at wage.
func (h *Household) GetEmployed(firm FirmID, wage float64) {
	h.Employed = true
	h.Employer = firm
	h.Income = wage
}

// ReceiveWelfare credits a transfer for this step.
func (h *Household) ReceiveWelfare(amount float64) {
	h.WelfareReceived += amount
}

// Disposable is this step's income plus transfers, never negative.
func (h *Household) Disposable() float64 {
	return math.Max(0, h.Income+h.WelfareReceived)
}

// Resources is everything the household can spend this step.
func (h *Household) Resources() float64 {
	return h.Wealth + h.Disposable()
}

// Offer is the price a firm asks this step, as seen by a household.
type Offer struct {
	Firm  FirmID
	Price float64
}

// AllocateBudget plans this step's purchases. It does not move money: the
// returned slice holds the desired quantity from each offer, in offer order.
// Shares follow a softmax over -sensitivity*price, shifted by the lowest
// price so that high price levels cannot underflow every weight to zero.
func (h *Household) AllocateBudget(offers []Offer, sensitivity, wealthDrawRate, priceFloor float64) []float64 {
	quantities := make([]float64, len(offers))
	disposable := h.Disposable()
	draw := math.Min(h.Wealth, h.Wealth*wealthDrawRate)
	budget := math.Min(h.PropensityToConsume*disposable+draw, h.Wealth+disposable)
	budget = math.Max(0, budget)
	h.PlannedConsumption = budget

	if budget == 0 || len(offers) == 0 {
		return quantities
	}

	minPrice := math.Inf(1)
	for _, o := range offers {
		minPrice = math.Min(minPrice, o.Price)
	}

	weights := make([]float64, len(offers))
	var total float64
	for i, o := range offers {
		weights[i] = math.Exp(-sensitivity * (o.Price - minPrice))
		total += weights[i]
	}
	if total <= 0 || math.IsNaN(total) {
		return quantities
	}

	floor := math.Max(priceFloor, 0.01)
	for i, o := range offers {
		spend := budget * weights[i] / total
		quantities[i] = spend / math.Max(o.Price, floor)
	}
	return quantities
}

// FinalizeConsumption commits realized purchases. Spending beyond resources
// is clipped and wealth never drops below floor.
func (h *Household) FinalizeConsumption(spending, quantity, floor float64) {
	resources := h.Resources()
	spending = clamp(spending, 0, math.Max(0, resources))
	h.Consumption = spending
	h.QuantityConsumed = math.Max(0, quantity)
	h.Wealth = math.Max(floor, resources-spending)
}

// Step clears the per-step flows. Employment and wealth persist.
func (h *Household) Step() {
	h.Income = 0
	h.WelfareReceived = 0
	h.PlannedConsumption = 0
	h.Consumption = 0
	h.QuantityConsumed = 0
	h.TaxesPaid = 0
}
