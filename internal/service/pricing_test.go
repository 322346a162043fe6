package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kzp/zoo-ticketing/internal/model"
)

func TestResolveAndPriceScenarios(t *testing.T) {
	env := newTestEnv(t, monday)
	snap := env.catalog.Snapshot(context.Background(), "")

	tests := []struct {
		name  string
		cart  []CartItem
		total float64
		lines int
	}{
		{"two adults", cart("zoo_adult", "2"), 100, 1},
		{"differently abled is free", cart("zoo_differently_abled", "1"), 0, 1},
		{"child below five is free", cart("zoo_child_below_5", "3"), 0, 1},
		{"alias and case", cart(" Adult ", "1", "KID", "2"), 90, 2},
		{"alias merges with canonical code", cart("adult", "1", "zoo_adult", "2"), 150, 1},
		{"mixed categories", cart("zoo_adult", "2", "car", "1", "camera", "1", "battery_car", "2"), 240, 4},
		{"quantity as numeric string with decimals", cart("zoo_senior_citizen", "2.0"), 40, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveAndPrice(tt.cart, snap, 100)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.TotalAmount != tt.total {
				t.Fatalf("total = %v, want %v", got.TotalAmount, tt.total)
			}
			if len(got.Items) != tt.lines {
				t.Fatalf("lines = %d, want %d", len(got.Items), tt.lines)
			}
			sum := 0.0
			for _, it := range got.Items {
				if it.Amount != it.UnitPrice*float64(it.Quantity) {
					t.Fatalf("line %s amount %v != %v x %d", it.ItemCode, it.Amount, it.UnitPrice, it.Quantity)
				}
				sum += it.Amount
			}
			if sum != got.TotalAmount {
				t.Fatalf("sum of lines %v != total %v", sum, got.TotalAmount)
			}
		})
	}
}

func TestResolveAndPriceKeepsFirstSeenOrder(t *testing.T) {
	env := newTestEnv(t, monday)
	snap := env.catalog.Snapshot(context.Background(), "")

	got, err := ResolveAndPrice(cart("camera_video", "1", "zoo_child", "1", "video_camera", "1"), snap, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ItemCode != "camera_video" || got.Items[1].ItemCode != "zoo_child" {
		t.Fatalf("unexpected order: %+v", got.Items)
	}
	if got.Items[0].Quantity != 2 {
		t.Fatalf("merged quantity = %d, want 2", got.Items[0].Quantity)
	}

	again, _ := ResolveAndPrice(cart("camera_video", "1", "zoo_child", "1", "video_camera", "1"), snap, 0)
	if again.TotalAmount != got.TotalAmount || len(again.Items) != len(got.Items) {
		t.Fatalf("pricing is not deterministic: %+v vs %+v", got, again)
	}
}

func TestResolveAndPriceErrors(t *testing.T) {
	env := newTestEnv(t, monday)
	snap := env.catalog.Snapshot(context.Background(), "")

	tests := []struct {
		name string
		cart []CartItem
		max  int
		want error
	}{
		{"empty cart", nil, 100, ErrEmptyCart},
		{"missing quantity", cart("zoo_adult", ""), 100, ErrInvalidQuantity},
		{"zero quantity", cart("zoo_adult", "0"), 100, ErrInvalidQuantity},
		{"negative quantity", cart("zoo_adult", "-1"), 100, ErrInvalidQuantity},
		{"fractional quantity", cart("zoo_adult", "1.5"), 100, ErrInvalidQuantity},
		{"non numeric quantity", cart("zoo_adult", "abc"), 100, ErrInvalidQuantity},
		{"over the cap", cart("zoo_adult", "101"), 100, ErrInvalidQuantity},
		{"merged lines over the cap", cart("zoo_adult", "60", "adult", "50"), 100, ErrInvalidQuantity},
		{"unknown item", cart("elephant_ride", "1"), 100, ErrPricingNotConfigured},
		{"blank item code", cart("  ", "1"), 100, ErrPricingNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveAndPrice(tt.cart, snap, tt.max)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveAndPriceUnlimitedWhenCapIsZero(t *testing.T) {
	env := newTestEnv(t, monday)
	snap := env.catalog.Snapshot(context.Background(), "")

	got, err := ResolveAndPrice(cart("zoo_adult", "500"), snap, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalAmount != 25000 {
		t.Fatalf("total = %v, want 25000", got.TotalAmount)
	}
}

func TestPricingUsesStoredPricesExceptFreeCodes(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	if _, err := env.catalog.Resequence(ctx); err != nil {
		t.Fatalf("resequence: %v", err)
	}
	if _, err := env.db.ExecContext(ctx, "UPDATE tariffs SET price = 60 WHERE item_code = 'zoo_adult'"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.db.ExecContext(ctx, "UPDATE tariffs SET price = 25 WHERE item_code = 'zoo_differently_abled'"); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := ResolveAndPrice(cart("zoo_adult", "1", "zoo_differently_abled", "2"), env.catalog.Snapshot(ctx, ""), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalAmount != 60 {
		t.Fatalf("total = %v, want 60", got.TotalAmount)
	}
	if got.Items[1].UnitPrice != 0 {
		t.Fatalf("free code priced at %v", got.Items[1].UnitPrice)
	}
}

func TestPricingAdminTariffs(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()

	label, category, price := "Lion Feeding Show", "zoo", 15.0
	from := "2025-07-01"
	if _, err := env.catalog.CreateTariff(ctx, TariffInput{ItemCode: "lion_show", Label: &label, Category: &category, Price: &price}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.catalog.CreateTariff(ctx, TariffInput{ItemCode: "night_safari", Label: &label, Category: &category, Price: &price, ValidFrom: &from}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := ResolveAndPrice(cart("lion_show", "2"), env.catalog.Snapshot(ctx, "2025-06-02"), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalAmount != 30 {
		t.Fatalf("total = %v, want 30", got.TotalAmount)
	}

	if _, err := ResolveAndPrice(cart("night_safari", "1"), env.catalog.Snapshot(ctx, "2025-06-02"), 100); !errors.Is(err, ErrPricingNotConfigured) {
		t.Fatalf("before validFrom: err = %v, want ErrPricingNotConfigured", err)
	}
	if _, err := ResolveAndPrice(cart("night_safari", "1"), env.catalog.Snapshot(ctx, "2025-07-02"), 100); err != nil {
		t.Fatalf("inside window: %v", err)
	}

	if _, err := env.catalog.ToggleTariff(ctx, "lion_show"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := ResolveAndPrice(cart("lion_show", "1"), env.catalog.Snapshot(ctx, ""), 100); !errors.Is(err, ErrPricingNotConfigured) {
		t.Fatalf("inactive tariff: err = %v, want ErrPricingNotConfigured", err)
	}
}

func TestPricingSharedCategoryIsDeterministic(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	if _, err := groupedTariff(t, env, "boat_small", "boat_group", 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := groupedTariff(t, env, "boat_big", "boat_group", 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Rows written outside the catalog service can still disagree.
	if _, err := env.db.ExecContext(ctx, "UPDATE tariffs SET price = 90 WHERE item_code = 'boat_big'"); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap := env.catalog.Snapshot(ctx, "")
	for i := 0; i < 200; i++ {
		got, err := ResolveAndPrice(cart("boat_big", "1"), snap, 100)
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if got.TotalAmount != 90 {
			t.Fatalf("run %d: total = %v, want 90", i, got.TotalAmount)
		}
		got, err = ResolveAndPrice(cart("boat_small", "1", "boat_big", "1"), snap, 100)
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if len(got.Items) != 1 || got.Items[0].ItemCode != "boat_group" || got.TotalAmount != 20 {
			t.Fatalf("run %d: merged = %+v", i, got)
		}
	}
}

func TestResolveAndPriceSumsInPaise(t *testing.T) {
	snap := &PricingSnapshot{active: map[string]model.TariffEntry{
		"feed_a": {ItemCode: "feed_a", Label: "Feed A", Category: "zoo", Price: 0.1, IsActive: true},
		"feed_b": {ItemCode: "feed_b", Label: "Feed B", Category: "zoo", Price: 0.2, IsActive: true},
		"feed_c": {ItemCode: "feed_c", Label: "Feed C", Category: "zoo", Price: 33.33, IsActive: true},
	}}
	got, err := ResolveAndPrice(cart("feed_a", "1", "feed_b", "1", "feed_c", "3"), snap, 0)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if got.TotalAmount != 100.29 {
		t.Fatalf("total = %v, want 100.29", got.TotalAmount)
	}
	var sum int64
	for _, it := range got.Items {
		sum += toPaise(it.Amount)
	}
	if sum != toPaise(got.TotalAmount) {
		t.Fatalf("line amounts sum to %d paise, total is %d", sum, toPaise(got.TotalAmount))
	}
	if got.Items[2].Amount != 99.99 {
		t.Fatalf("feed_c amount = %v", got.Items[2].Amount)
	}
}
