package config

// Catalog is the immutable plan and top-up package configuration. It is
// built once at startup and injected into the services that need it; there
// is no mutable global pricing state.
type Catalog struct {
	Currency string

	TrialCredits    int64
	TrialExpiryDays int

	plans  []PlanConfig
	topUps []TopUpConfig

	plansByPriceRef  map[string]PlanConfig
	topUpsByPriceRef map[string]TopUpConfig
	plansByCode      map[string]PlanConfig
	topUpsByCode     map[string]TopUpConfig
}

// PlanConfig describes one recurring subscription package.
type PlanConfig struct {
	Code                  string `json:"code"`
	Name                  string `json:"name"`
	MonthlyAllowance      int64  `json:"monthly_allowance"`
	PriceCents            int64  `json:"price_cents"`
	OverageUnitPriceCents int64  `json:"overage_unit_price_cents"`
	BasePriceRef          string `json:"base_price_ref"`
	OveragePriceRef       string `json:"overage_price_ref,omitempty"`
	Yearly                bool   `json:"yearly"`
}

// TopUpConfig describes one purchasable credit package.
type TopUpConfig struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	PriceRef   string `json:"price_ref"`
	ExpiryDays int    `json:"expiry_days"`
}

// NewCatalog builds the catalog from built-in package definitions with
// provider price references taken from the environment.
func NewCatalog(cfg Config) Catalog {
	overageRef := getenv("STRIPE_PRICE_PRO_OVERAGE", "price_pro_overage")

	plans := []PlanConfig{
		{
			Code:                  "PRO_MONTHLY",
			Name:                  "Monthly Subscription",
			MonthlyAllowance:      1000,
			PriceCents:            6000,
			OverageUnitPriceCents: 6,
			BasePriceRef:          getenv("STRIPE_PRICE_PRO_MONTHLY", "price_pro_monthly"),
			OveragePriceRef:       overageRef,
		},
		{
			Code:                  "PRO_YEARLY",
			Name:                  "Yearly Subscription",
			MonthlyAllowance:      1000,
			PriceCents:            60000,
			OverageUnitPriceCents: 6,
			BasePriceRef:          getenv("STRIPE_PRICE_PRO_YEARLY", "price_pro_yearly"),
			OveragePriceRef:       overageRef,
			Yearly:                true,
		},
	}

	topUps := []TopUpConfig{
		{
			Code:       "STARTER",
			Name:       "Starter Wallet",
			Credits:    200,
			PriceCents: 1500,
			PriceRef:   getenv("STRIPE_PRICE_TOPUP_STARTER", "price_topup_starter"),
			ExpiryDays: 90,
		},
		{
			Code:       "GROWTH",
			Name:       "Growth Topup",
			Credits:    700,
			PriceCents: 4900,
			PriceRef:   getenv("STRIPE_PRICE_TOPUP_GROWTH", "price_topup_growth"),
			ExpiryDays: 90,
		},
		{
			Code:       "PRO",
			Name:       "Pro Topup",
			Credits:    1600,
			PriceCents: 10000,
			PriceRef:   getenv("STRIPE_PRICE_TOPUP_PRO", "price_topup_pro"),
			ExpiryDays: 90,
		},
	}

	catalog := Catalog{
		Currency:         getenv("BILLING_CURRENCY", "EUR"),
		TrialCredits:     getenvInt64("TRIAL_SIGNUP_CREDITS", 15),
		TrialExpiryDays:  int(getenvInt64("TRIAL_EXPIRY_DAYS", 30)),
		plans:            plans,
		topUps:           topUps,
		plansByPriceRef:  make(map[string]PlanConfig, len(plans)),
		topUpsByPriceRef: make(map[string]TopUpConfig, len(topUps)),
		plansByCode:      make(map[string]PlanConfig, len(plans)),
		topUpsByCode:     make(map[string]TopUpConfig, len(topUps)),
	}
	for _, plan := range plans {
		catalog.plansByPriceRef[plan.BasePriceRef] = plan
		if plan.OveragePriceRef != "" {
			catalog.plansByPriceRef[plan.OveragePriceRef] = plan
		}
		catalog.plansByCode[plan.Code] = plan
	}
	for _, topUp := range topUps {
		catalog.topUpsByPriceRef[topUp.PriceRef] = topUp
		catalog.topUpsByCode[topUp.Code] = topUp
	}
	return catalog
}

func (c Catalog) PlanByPriceRef(ref string) (PlanConfig, bool) {
	plan, ok := c.plansByPriceRef[ref]
	return plan, ok
}

func (c Catalog) TopUpByPriceRef(ref string) (TopUpConfig, bool) {
	topUp, ok := c.topUpsByPriceRef[ref]
	return topUp, ok
}

func (c Catalog) PlanByCode(code string) (PlanConfig, bool) {
	plan, ok := c.plansByCode[code]
	return plan, ok
}

func (c Catalog) TopUpByCode(code string) (TopUpConfig, bool) {
	topUp, ok := c.topUpsByCode[code]
	return topUp, ok
}

func (c Catalog) Plans() []PlanConfig { return c.plans }

func (c Catalog) TopUps() []TopUpConfig { return c.topUps }
