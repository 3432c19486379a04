package condition

import (
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMember() *models.Member {
	return &models.Member{
		ID:      "member-1",
		OwnerID: "owner-1",
		Email:   "Ana@Example.com",
		Tags:    []string{"Newsletter", "straße"},
		Fields:  map[string]string{"city": "São Paulo", "plan": "Pro"},
	}
}

func TestEvaluate_MemberRecord(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		spec models.ConditionSpec
		want bool
	}{
		{"tag present", models.ConditionSpec{Kind: models.ConditionTagExists, Tag: "newsletter"}, true},
		{"tag absent", models.ConditionSpec{Kind: models.ConditionTagExists, Tag: "VIP"}, false},
		{"tag folded", models.ConditionSpec{Kind: models.ConditionTagExists, Tag: "STRASSE"}, true},
		{"tag not exists", models.ConditionSpec{Kind: models.ConditionTagNotExists, Tag: "VIP"}, true},
		{"tag not exists but present", models.ConditionSpec{Kind: models.ConditionTagNotExists, Tag: "NEWSLETTER"}, false},
		{"field equals", models.ConditionSpec{Kind: models.ConditionFieldEquals, Field: "plan", Value: "pro"}, true},
		{"field not equal", models.ConditionSpec{Kind: models.ConditionFieldEquals, Field: "plan", Value: "free"}, false},
		{"field contains", models.ConditionSpec{Kind: models.ConditionFieldContains, Field: "city", Value: "são"}, true},
		{"field starts with", models.ConditionSpec{Kind: models.ConditionFieldStartsWith, Field: "city", Value: "SÃO"}, true},
		{"field ends with", models.ConditionSpec{Kind: models.ConditionFieldEndsWith, Field: "city", Value: "paulo"}, true},
		{"email column", models.ConditionSpec{Kind: models.ConditionFieldEndsWith, Field: "email", Value: "@example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.spec, testMember(), nil, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Interactions(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	log := []models.Interaction{
		{Kind: models.InteractionEmailOpened, Ref: "welcome", At: now.Add(-time.Hour)},
		{Kind: models.InteractionLinkClicked, Ref: "https://shop.example.com/sale", At: now.Add(-time.Hour)},
		{Kind: models.InteractionPurchase, Ref: "Running Shoes", At: now.Add(-2 * time.Hour)},
		{Kind: models.InteractionCustom, Ref: "webinar_attended", At: now.Add(-3 * time.Hour)},
	}

	tests := []struct {
		name string
		spec models.ConditionSpec
		want bool
	}{
		{"opened", models.ConditionSpec{Kind: models.ConditionEmailOpened, TemplateRef: "welcome"}, true},
		{"not opened", models.ConditionSpec{Kind: models.ConditionEmailOpened, TemplateRef: "promo"}, false},
		{"template ref is exact", models.ConditionSpec{Kind: models.ConditionEmailOpened, TemplateRef: "WELCOME"}, false},
		{"clicked", models.ConditionSpec{Kind: models.ConditionLinkClicked, URL: "https://shop.example.com/sale"}, true},
		{"not clicked", models.ConditionSpec{Kind: models.ConditionLinkClicked, URL: "https://shop.example.com/"}, false},
		{"purchased", models.ConditionSpec{Kind: models.ConditionProductPurchased, Product: "running shoes"}, true},
		{"not purchased", models.ConditionSpec{Kind: models.ConditionProductPurchased, Product: "Socks"}, false},
		{"event occurred", models.ConditionSpec{Kind: models.ConditionEventOccurred, Event: "webinar_attended"}, true},
		{"event missing", models.ConditionSpec{Kind: models.ConditionEventOccurred, Event: "demo_booked"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.spec, testMember(), log, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_AbandonedCartWindow(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	spec := models.ConditionSpec{Kind: models.ConditionAbandonedCart, CartTimeout: 30}
	log := []models.Interaction{{Kind: models.InteractionCartStarted, At: start}}

	got, err := Evaluate(spec, testMember(), log, start.Add(29*time.Minute))
	require.NoError(t, err)
	assert.False(t, got, "minute 29 is still inside the window")

	got, err = Evaluate(spec, testMember(), log, start.Add(31*time.Minute))
	require.NoError(t, err)
	assert.True(t, got, "minute 31 without checkout is abandoned")
}

func TestEvaluate_AbandonedCartCases(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(2 * time.Hour)
	spec := models.ConditionSpec{Kind: models.ConditionAbandonedCart, CartTimeout: 30}

	tests := []struct {
		name string
		log  []models.Interaction
		want bool
	}{
		{"no cart", nil, false},
		{
			"checkout inside window",
			[]models.Interaction{
				{Kind: models.InteractionCartStarted, At: start},
				{Kind: models.InteractionCheckoutCompleted, At: start.Add(10 * time.Minute)},
			},
			false,
		},
		{
			"checkout after window",
			[]models.Interaction{
				{Kind: models.InteractionCartStarted, At: start},
				{Kind: models.InteractionCheckoutCompleted, At: start.Add(45 * time.Minute)},
			},
			true,
		},
		{
			"checkout belongs to earlier cart",
			[]models.Interaction{
				{Kind: models.InteractionCartStarted, At: start.Add(-time.Hour)},
				{Kind: models.InteractionCheckoutCompleted, At: start.Add(-50 * time.Minute)},
				{Kind: models.InteractionCartStarted, At: start},
			},
			true,
		},
		{
			"latest cart still open",
			[]models.Interaction{
				{Kind: models.InteractionCartStarted, At: start},
				{Kind: models.InteractionCartStarted, At: now.Add(-5 * time.Minute)},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(spec, testMember(), tt.log, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	now := time.Now()

	_, err := Evaluate(models.ConditionSpec{Kind: models.ConditionFieldEquals, Field: "company", Value: "acme"}, testMember(), nil, now)
	assert.ErrorIs(t, err, ErrMissingData)

	_, err = Evaluate(models.ConditionSpec{Kind: models.ConditionTagExists}, testMember(), nil, now)
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Evaluate(models.ConditionSpec{Kind: "lead_score_above"}, testMember(), nil, now)
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Evaluate(models.ConditionSpec{Kind: models.ConditionAbandonedCart}, testMember(), nil, now)
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Evaluate(models.ConditionSpec{Kind: models.ConditionTagExists, Tag: "VIP"}, nil, nil, now)
	assert.ErrorIs(t, err, ErrMissingData)
}
