package plans

import "testing"

func TestForTier(t *testing.T) {
	cases := []struct {
		tier string
		want Limits
	}{
		{"free", Limits{Tier: TierFree, MaxMonthlyAppointments: 200}},
		{" Starter ", Limits{Tier: TierStarter, MaxMonthlyAppointments: 500}},
		{"PRO", Limits{Tier: TierPro, MaxMonthlyAppointments: 2000}},
		{"enterprise", Limits{Tier: TierFree, MaxMonthlyAppointments: 200}},
		{"", Limits{Tier: TierFree, MaxMonthlyAppointments: 200}},
	}
	for _, tc := range cases {
		if got := ForTier(tc.tier); got != tc.want {
			t.Fatalf("ForTier(%q) = %+v, want %+v", tc.tier, got, tc.want)
		}
	}
}

func TestPaidTiersRaiseTheCap(t *testing.T) {
	free := ForTier(TierFree).MaxMonthlyAppointments
	starter := ForTier(TierStarter).MaxMonthlyAppointments
	pro := ForTier(TierPro).MaxMonthlyAppointments
	if !(free < starter && starter < pro) {
		t.Fatalf("expected free < starter < pro, got %d %d %d", free, starter, pro)
	}
}

func TestPaid(t *testing.T) {
	if Paid("free") || Paid("gold") {
		t.Fatal("free and unknown tiers are not purchasable")
	}
	if !Paid("starter") || !Paid("Pro") {
		t.Fatal("starter and pro are purchasable")
	}
}
