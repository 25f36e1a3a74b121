// Package config holds every tunable constant of the economy, grouped by the
// component that reads it. Components receive the relevant group by value.
package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by Validate for every rejected field.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Simulation SimulationConfig `toml:"simulation" json:"simulation"`
	Household  HouseholdConfig  `toml:"household" json:"household"`
	Firm       FirmConfig       `toml:"firm" json:"firm"`
	Labor      LaborConfig      `toml:"labor" json:"labor"`
	Goods      GoodsConfig      `toml:"goods" json:"goods"`
	Fiscal     FiscalConfig     `toml:"fiscal" json:"fiscal"`
	Monetary   MonetaryConfig   `toml:"monetary" json:"monetary"`
	Crisis     CrisisConfig     `toml:"crisis" json:"crisis"`
	Narration  NarrationConfig  `toml:"narration" json:"narration"`
	Noise      NoiseConfig      `toml:"noise" json:"noise"`
	Server     ServerConfig     `toml:"server" json:"server"`
	Storage    StorageConfig    `toml:"storage" json:"storage"`

	CalibrationPath string `toml:"calibration_path" json:"calibration_path"`
	LogLevel        string `toml:"log_level" json:"log_level"`
}

type SimulationConfig struct {
	Households int   `toml:"households" json:"households"`
	Firms      int   `toml:"firms" json:"firms"`
	Seed       int64 `toml:"seed" json:"seed"`
	// RandomSeed asks the entrypoint to draw Seed from the entropy source.
	RandomSeed bool `toml:"random_seed" json:"random_seed"`
	// EntropyKey is the random.org API key. Without it seeds come from crypto/rand.
	EntropyKey string `toml:"entropy_key" json:"-"`
}

type HouseholdConfig struct {
	WealthMean          float64 `toml:"wealth_mean" json:"wealth_mean"`
	WealthStd           float64 `toml:"wealth_std" json:"wealth_std"`
	WealthMin           float64 `toml:"wealth_min" json:"wealth_min"`
	WealthFloor         float64 `toml:"wealth_floor" json:"wealth_floor"`
	PropensityToConsume float64 `toml:"propensity_to_consume" json:"propensity_to_consume"`
	WealthDrawRate      float64 `toml:"wealth_draw_rate" json:"wealth_draw_rate"`
}

type FirmConfig struct {
	CapitalMean       float64 `toml:"capital_mean" json:"capital_mean"`
	CapitalStd        float64 `toml:"capital_std" json:"capital_std"`
	CapitalMin        float64 `toml:"capital_min" json:"capital_min"`
	CashRatio         float64 `toml:"cash_ratio" json:"cash_ratio"`
	CashFloor         float64 `toml:"cash_floor" json:"cash_floor"`
	Productivity      float64 `toml:"productivity" json:"productivity"`
	Gamma             float64 `toml:"gamma" json:"gamma"`
	InitialPrice      float64 `toml:"initial_price" json:"initial_price"`
	PriceFloor        float64 `toml:"price_floor" json:"price_floor"`
	Depreciation      float64 `toml:"depreciation" json:"depreciation"`
	InvestmentShare   float64 `toml:"investment_share" json:"investment_share"`     // ξ
	CapitalElasticity float64 `toml:"capital_elasticity" json:"capital_elasticity"` // κ
	InvestmentCashCap float64 `toml:"investment_cash_cap" json:"investment_cash_cap"`
	InvestmentMaxRate float64 `toml:"investment_max_rate" json:"investment_max_rate"`

	DemandWeight     float64 `toml:"demand_weight" json:"demand_weight"` // θd
	CostWeight       float64 `toml:"cost_weight" json:"cost_weight"`     // θc
	PriceTolerance   float64 `toml:"price_tolerance" json:"price_tolerance"`
	MaxPriceMove     float64 `toml:"max_price_move" json:"max_price_move"`
	DemandSmoothing  float64 `toml:"demand_smoothing" json:"demand_smoothing"`
	BacklogWeight    float64 `toml:"backlog_weight" json:"backlog_weight"`
	MaxLaborChange   float64 `toml:"max_labor_change" json:"max_labor_change"`
	LaborShareCap    float64 `toml:"labor_share_cap" json:"labor_share_cap"`
	InterestPenalty  float64 `toml:"interest_penalty" json:"interest_penalty"`
	MinRatePenalty   float64 `toml:"min_rate_penalty" json:"min_rate_penalty"`
	MaxInventoryTrim float64 `toml:"max_inventory_trim" json:"max_inventory_trim"`
	MaxInventoryPush float64 `toml:"max_inventory_push" json:"max_inventory_push"`
}

type LaborConfig struct {
	InitialWage        float64 `toml:"initial_wage" json:"initial_wage"`
	MinimumWage        float64 `toml:"minimum_wage" json:"minimum_wage"`
	AdjustmentSpeed    float64 `toml:"adjustment_speed" json:"adjustment_speed"` // η
	MaxWageCut         float64 `toml:"max_wage_cut" json:"max_wage_cut"`
	SlackThreshold     float64 `toml:"slack_threshold" json:"slack_threshold"`
	MatchingEfficiency float64 `toml:"matching_efficiency" json:"matching_efficiency"`
}

type GoodsConfig struct {
	PriceSensitivity    float64 `toml:"price_sensitivity" json:"price_sensitivity"` // λ
	InitialDemand       float64 `toml:"initial_demand" json:"initial_demand"`
	DemandFloor         float64 `toml:"demand_floor" json:"demand_floor"`
	DemandCeiling       float64 `toml:"demand_ceiling" json:"demand_ceiling"`
	DemandSmoothing     float64 `toml:"demand_smoothing" json:"demand_smoothing"`
	UnmetDemandWeight   float64 `toml:"unmet_demand_weight" json:"unmet_demand_weight"`
	MinExpectedPerFirm  float64 `toml:"min_expected_per_firm" json:"min_expected_per_firm"`
	MinExpectedBase     float64 `toml:"min_expected_base" json:"min_expected_base"`
	MinExpectedSlope    float64 `toml:"min_expected_slope" json:"min_expected_slope"`
	MinExpectedCeiling  float64 `toml:"min_expected_ceiling" json:"min_expected_ceiling"`
	ExpectationDrift    float64 `toml:"expectation_drift" json:"expectation_drift"`
	SensitivityFloor    float64 `toml:"sensitivity_floor" json:"sensitivity_floor"`
	SensitivityCeiling  float64 `toml:"sensitivity_ceiling" json:"sensitivity_ceiling"`
	AdaptiveExpectation bool    `toml:"adaptive_expectation" json:"adaptive_expectation"`
}

type FiscalConfig struct {
	VATRate         float64 `toml:"vat_rate" json:"vat_rate"`
	PayrollRate     float64 `toml:"payroll_rate" json:"payroll_rate"`
	CorporateRate   float64 `toml:"corporate_rate" json:"corporate_rate"`
	WelfarePayment  float64 `toml:"welfare_payment" json:"welfare_payment"`
	Spending        float64 `toml:"spending" json:"spending"`
	Countercyclical bool    `toml:"countercyclical" json:"countercyclical"`
	// Unemployment thresholds in percent.
	HighSlack float64 `toml:"high_slack" json:"high_slack"`
	LowSlack  float64 `toml:"low_slack" json:"low_slack"`
}

type MonetaryConfig struct {
	InterestRate        float64 `toml:"interest_rate" json:"interest_rate"`
	MaxRate             float64 `toml:"max_rate" json:"max_rate"`
	InflationTarget     float64 `toml:"inflation_target" json:"inflation_target"`
	NeutralRate         float64 `toml:"neutral_rate" json:"neutral_rate"`
	NaturalUnemployment float64 `toml:"natural_unemployment" json:"natural_unemployment"`
	InflationWeight     float64 `toml:"inflation_weight" json:"inflation_weight"`
	UnemploymentWeight  float64 `toml:"unemployment_weight" json:"unemployment_weight"`
	Smoothing           float64 `toml:"smoothing" json:"smoothing"`
	MoneySupply         float64 `toml:"money_supply" json:"money_supply"`
	ReserveRatio        float64 `toml:"reserve_ratio" json:"reserve_ratio"`
	AutoPolicy          bool    `toml:"auto_policy" json:"auto_policy"`
}

type CrisisConfig struct {
	RecessionCooldown int     `toml:"recession_cooldown" json:"recession_cooldown"`
	InflationCooldown int     `toml:"inflation_cooldown" json:"inflation_cooldown"`
	RecessionDemand   float64 `toml:"recession_demand" json:"recession_demand"`
	InflationDemand   float64 `toml:"inflation_demand" json:"inflation_demand"`
	// WageIndexation is the share of price inflation passed to wages while
	// an inflation shock cools down.
	WageIndexation float64 `toml:"wage_indexation" json:"wage_indexation"`

	Recession RecessionShock `toml:"recession" json:"recession"`
	Inflation InflationShock `toml:"inflation" json:"inflation"`
}

// RecessionShock holds the multipliers a triggered recession applies.
type RecessionShock struct {
	Wealth         float64 `toml:"wealth" json:"wealth"`
	MPCDrop        float64 `toml:"mpc_drop" json:"mpc_drop"`
	MPCFloor       float64 `toml:"mpc_floor" json:"mpc_floor"`
	ExpectedDemand float64 `toml:"expected_demand" json:"expected_demand"`
	Capital        float64 `toml:"capital" json:"capital"`
	Inventory      float64 `toml:"inventory" json:"inventory"`
	Wage           float64 `toml:"wage" json:"wage"`
	Productivity   float64 `toml:"productivity" json:"productivity"`
	LaborDemand    float64 `toml:"labor_demand" json:"labor_demand"`
	MarketDemand   float64 `toml:"market_demand" json:"market_demand"`
	Sensitivity    float64 `toml:"sensitivity" json:"sensitivity"`
	SensitivityCap float64 `toml:"sensitivity_cap" json:"sensitivity_cap"`
	SpendingCut    float64 `toml:"spending_cut" json:"spending_cut"`
}

// InflationShock holds the multipliers a triggered inflation shock applies.
// Firm expectations become min(DemandCap*uplift, expected*DemandGrowth+DemandBoost).
type InflationShock struct {
	MoneySupply      float64 `toml:"money_supply" json:"money_supply"`
	Spending         float64 `toml:"spending" json:"spending"`
	Wealth           float64 `toml:"wealth" json:"wealth"`
	MarketDemand     float64 `toml:"market_demand" json:"market_demand"`
	Sensitivity      float64 `toml:"sensitivity" json:"sensitivity"`
	SensitivityFloor float64 `toml:"sensitivity_floor" json:"sensitivity_floor"`
	Inventory        float64 `toml:"inventory" json:"inventory"`
	Price            float64 `toml:"price" json:"price"`
	Wage             float64 `toml:"wage" json:"wage"`
	DemandGrowth     float64 `toml:"demand_growth" json:"demand_growth"`
	DemandBoost      float64 `toml:"demand_boost" json:"demand_boost"`
	DemandCap        float64 `toml:"demand_cap" json:"demand_cap"`
}

type NarrationConfig struct {
	Enabled      bool    `toml:"enabled" json:"enabled"`
	Cooldown     int     `toml:"cooldown" json:"cooldown"`
	GDPMove      float64 `toml:"gdp_move" json:"gdp_move"`           // percent
	JoblessMove  float64 `toml:"jobless_move" json:"jobless_move"`   // points
	InflationCap float64 `toml:"inflation_cap" json:"inflation_cap"` // percent
	TimeoutSecs  int     `toml:"timeout_secs" json:"timeout_secs"`
	CacheSize    int     `toml:"cache_size" json:"cache_size"`
	APIKey       string  `toml:"api_key" json:"-"`
}

// NoiseConfig drives the per-firm TFP shock field. Zero amplitude disables it.
type NoiseConfig struct {
	Amplitude float64 `toml:"amplitude" json:"amplitude"`
	Frequency float64 `toml:"frequency" json:"frequency"`
}

type ServerConfig struct {
	Port        int      `toml:"port" json:"port"`
	AdminKey    string   `toml:"admin_key" json:"-"`
	IntervalMS  int      `toml:"interval_ms" json:"interval_ms"`
	Speed       float64  `toml:"speed" json:"speed"`
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
}

type StorageConfig struct {
	Path string `toml:"path" json:"path"`
}

// Defaults returns the reference economy: 100 households, 10 firms and the
// fiscal/monetary settings of a stylized advanced economy. Output is scaled
// so that a firm holding its average workforce share supplies roughly what
// household incomes can buy at the initial price level.
func Defaults() Config {
	return Config{
		Simulation: SimulationConfig{
			Households: 100,
			Firms:      10,
			Seed:       42,
		},
		Household: HouseholdConfig{
			WealthMean:          5000,
			WealthStd:           2000,
			WealthMin:           1000,
			WealthFloor:         0,
			PropensityToConsume: 0.7,
			WealthDrawRate:      0.05,
		},
		Firm: FirmConfig{
			CapitalMean:       50000,
			CapitalStd:        20000,
			CapitalMin:        10000,
			CashRatio:         0.1,
			CashFloor:         0,
			Productivity:      200,
			Gamma:             0.7,
			InitialPrice:      10,
			PriceFloor:        1,
			Depreciation:      0.05,
			InvestmentShare:   0.1,
			CapitalElasticity: 0.1,
			InvestmentCashCap: 0.5,
			InvestmentMaxRate: 0.08,
			DemandWeight:      0.1,
			CostWeight:        0.1,
			PriceTolerance:    0.02,
			MaxPriceMove:      0.05,
			DemandSmoothing:   0.3,
			BacklogWeight:     0.35,
			MaxLaborChange:    0.25,
			LaborShareCap:     1.2,
			InterestPenalty:   5,
			MinRatePenalty:    0.4,
			MaxInventoryTrim:  0.4,
			MaxInventoryPush:  0.3,
		},
		Labor: LaborConfig{
			InitialWage:        1000,
			MinimumWage:        500,
			AdjustmentSpeed:    0.1,
			MaxWageCut:         0.03,
			SlackThreshold:     0.1,
			MatchingEfficiency: 0.96,
		},
		Goods: GoodsConfig{
			PriceSensitivity:    1.0,
			InitialDemand:       9000,
			DemandFloor:         500,
			DemandCeiling:       40000,
			DemandSmoothing:     0.25,
			UnmetDemandWeight:   0.2,
			MinExpectedPerFirm:  900,
			MinExpectedBase:     700,
			MinExpectedSlope:    1250,
			MinExpectedCeiling:  1500,
			ExpectationDrift:    0.2,
			SensitivityFloor:    0.5,
			SensitivityCeiling:  1.2,
			AdaptiveExpectation: true,
		},
		Fiscal: FiscalConfig{
			VATRate:         0.15,
			PayrollRate:     0.10,
			CorporateRate:   0.20,
			WelfarePayment:  500,
			Spending:        10000,
			Countercyclical: true,
			HighSlack:       12,
			LowSlack:        10,
		},
		Monetary: MonetaryConfig{
			InterestRate:        0.05,
			MaxRate:             0.20,
			InflationTarget:     0.02,
			NeutralRate:         0.02,
			NaturalUnemployment: 0.05,
			InflationWeight:     0.5,
			UnemploymentWeight:  0.5,
			Smoothing:           0.3,
			MoneySupply:         1_000_000,
			ReserveRatio:        0.10,
		},
		Crisis: CrisisConfig{
			RecessionCooldown: 6,
			InflationCooldown: 5,
			RecessionDemand:   0.6,
			InflationDemand:   1.2,
			WageIndexation:    1,
			Recession: RecessionShock{
				Wealth:         0.6,
				MPCDrop:        0.1,
				MPCFloor:       0.3,
				ExpectedDemand: 0.3,
				Capital:        0.6,
				Inventory:      1.2,
				Wage:           0.9,
				Productivity:   0.8,
				LaborDemand:    0.3,
				MarketDemand:   0.1,
				Sensitivity:    1.1,
				SensitivityCap: 2,
				SpendingCut:    0.7,
			},
			Inflation: InflationShock{
				MoneySupply:      1.5,
				Spending:         1.5,
				Wealth:           1.2,
				MarketDemand:     1.5,
				Sensitivity:      0.8,
				SensitivityFloor: 0.5,
				Inventory:        0.5,
				Price:            1.12,
				Wage:             1.12,
				DemandGrowth:     1.3,
				DemandBoost:      10,
				DemandCap:        2,
			},
		},
		Narration: NarrationConfig{
			Enabled:      true,
			Cooldown:     4,
			GDPMove:      10,
			JoblessMove:  5,
			InflationCap: 5,
			TimeoutSecs:  20,
			CacheSize:    128,
		},
		Noise: NoiseConfig{
			Amplitude: 0,
			Frequency: 0.15,
		},
		Server: ServerConfig{
			Port:       8080,
			IntervalMS: 1000,
			Speed:      1,
		},
		Storage: StorageConfig{
			Path: "data/macrosim.db",
		},
		LogLevel: "info",
	}
}

// RateCeiling bounds the policy rate ceiling a configuration may set.
const RateCeiling = 0.20

// Validate rejects configurations no economy can be built from.
func (c Config) Validate() error {
	checks := []struct {
		ok    bool
		field string
		value any
	}{
		{c.Simulation.Households >= 0, "simulation.households", c.Simulation.Households},
		{c.Simulation.Firms >= 0, "simulation.firms", c.Simulation.Firms},
		{c.Firm.Gamma > 0 && c.Firm.Gamma < 1, "firm.gamma", c.Firm.Gamma},
		{c.Firm.Productivity > 0, "firm.productivity", c.Firm.Productivity},
		{c.Firm.PriceFloor > 0, "firm.price_floor", c.Firm.PriceFloor},
		{c.Firm.InitialPrice >= c.Firm.PriceFloor, "firm.initial_price", c.Firm.InitialPrice},
		{unit(c.Firm.Depreciation), "firm.depreciation", c.Firm.Depreciation},
		{unit(c.Firm.DemandSmoothing), "firm.demand_smoothing", c.Firm.DemandSmoothing},
		{c.Firm.MaxPriceMove >= 0, "firm.max_price_move", c.Firm.MaxPriceMove},
		{c.Firm.LaborShareCap > 0, "firm.labor_share_cap", c.Firm.LaborShareCap},
		{c.Household.WealthStd >= 0, "household.wealth_std", c.Household.WealthStd},
		{unit(c.Household.PropensityToConsume), "household.propensity_to_consume", c.Household.PropensityToConsume},
		{unit(c.Household.WealthDrawRate), "household.wealth_draw_rate", c.Household.WealthDrawRate},
		{c.Labor.MinimumWage >= 0, "labor.minimum_wage", c.Labor.MinimumWage},
		{c.Labor.InitialWage >= c.Labor.MinimumWage, "labor.initial_wage", c.Labor.InitialWage},
		{unit(c.Labor.MatchingEfficiency), "labor.matching_efficiency", c.Labor.MatchingEfficiency},
		{c.Goods.DemandFloor <= c.Goods.DemandCeiling, "goods.demand_floor", c.Goods.DemandFloor},
		{unit(c.Goods.DemandSmoothing), "goods.demand_smoothing", c.Goods.DemandSmoothing},
		{c.Goods.PriceSensitivity >= 0, "goods.price_sensitivity", c.Goods.PriceSensitivity},
		{unit(c.Fiscal.VATRate), "fiscal.vat_rate", c.Fiscal.VATRate},
		{unit(c.Fiscal.PayrollRate), "fiscal.payroll_rate", c.Fiscal.PayrollRate},
		{unit(c.Fiscal.CorporateRate), "fiscal.corporate_rate", c.Fiscal.CorporateRate},
		{c.Fiscal.WelfarePayment >= 0, "fiscal.welfare_payment", c.Fiscal.WelfarePayment},
		{c.Fiscal.Spending >= 0, "fiscal.spending", c.Fiscal.Spending},
		{c.Monetary.MaxRate >= 0 && c.Monetary.MaxRate <= RateCeiling, "monetary.max_rate", c.Monetary.MaxRate},
		{c.Monetary.InterestRate >= 0 && c.Monetary.InterestRate <= c.Monetary.MaxRate, "monetary.interest_rate", c.Monetary.InterestRate},
		{c.Monetary.MoneySupply >= 0, "monetary.money_supply", c.Monetary.MoneySupply},
		{c.Crisis.RecessionCooldown >= 0, "crisis.recession_cooldown", c.Crisis.RecessionCooldown},
		{c.Crisis.InflationCooldown >= 0, "crisis.inflation_cooldown", c.Crisis.InflationCooldown},
		{c.Crisis.WageIndexation >= 0 && c.Crisis.WageIndexation <= 1, "crisis.wage_indexation", c.Crisis.WageIndexation},
		{c.Crisis.Recession.MPCFloor >= 0 && c.Crisis.Recession.MPCFloor <= 1, "crisis.recession.mpc_floor", c.Crisis.Recession.MPCFloor},
		{c.Crisis.Recession.Wealth >= 0, "crisis.recession.wealth", c.Crisis.Recession.Wealth},
		{c.Crisis.Recession.SensitivityCap >= 0, "crisis.recession.sensitivity_cap", c.Crisis.Recession.SensitivityCap},
		{c.Crisis.Inflation.Wealth >= 0, "crisis.inflation.wealth", c.Crisis.Inflation.Wealth},
		{c.Crisis.Inflation.Price >= 0, "crisis.inflation.price", c.Crisis.Inflation.Price},
		{c.Crisis.Inflation.DemandCap > 0, "crisis.inflation.demand_cap", c.Crisis.Inflation.DemandCap},
		{c.Noise.Amplitude >= 0 && c.Noise.Amplitude < 1, "noise.amplitude", c.Noise.Amplitude},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s = %v", ErrInvalid, chk.field, chk.value)
		}
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }
