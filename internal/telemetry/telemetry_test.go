package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqSource replays fixed draws, wrapping around.
type seqSource struct {
	vals []float64
	i    int
}

func (s *seqSource) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

var testDescriptors = []Descriptor{
	{ID: "cauldron_001", Name: "Crimson Brew", MaxVolume: 1000, BaseVolume: 500},
	{ID: "cauldron_002", Name: "Sapphire Mist", MaxVolume: 800, BaseVolume: 400},
	{ID: "cauldron_003", Name: "Golden Elixir", MaxVolume: 1200},
}

func TestSynthesizeReadingsBounds(t *testing.T) {
	src := NewSource(42)
	d := []Descriptor{{ID: "c1", MaxVolume: 1000}}

	for i := 0; i < 1000; i++ {
		readings := SynthesizeReadings(src, d)
		require.Len(t, readings, 1)
		r := readings[0]
		assert.GreaterOrEqual(t, r.CurrentVolume, 100.0)
		assert.LessOrEqual(t, r.CurrentVolume, 900.0)
		assert.GreaterOrEqual(t, r.FillRate, 0.5)
		assert.LessOrEqual(t, r.FillRate, 2.5)
		assert.NotEqual(t, StatusCritical, r.Status)
		if r.HasDiscrepancy {
			assert.Equal(t, StatusWarning, r.Status)
		}
	}
}

func TestSynthesizeReadingsPreservesOrder(t *testing.T) {
	readings := SynthesizeReadings(NewSource(7), testDescriptors)
	require.Len(t, readings, len(testDescriptors))
	for i, r := range readings {
		assert.Equal(t, testDescriptors[i].ID, r.ID)
		assert.Equal(t, testDescriptors[i].Name, r.Name)
	}
	assert.Empty(t, SynthesizeReadings(NewSource(7), nil))
}

func TestSynthesizeReadingsDeterministic(t *testing.T) {
	a := SynthesizeReadings(NewSource(99), testDescriptors)
	b := SynthesizeReadings(NewSource(99), testDescriptors)
	assert.Equal(t, a, b)
}

func TestSynthesizeReadingFields(t *testing.T) {
	// volume draw 0.5 -> 500, rate draw 0.25 -> 1.0, discrepancy no, collecting yes
	src := &seqSource{vals: []float64{0.5, 0.25, 0.9, 0.1}}
	r := SynthesizeReadings(src, []Descriptor{{ID: "c1", MaxVolume: 1000}})[0]

	assert.Equal(t, 500.0, r.CurrentVolume)
	assert.Equal(t, 1.0, r.FillRate)
	assert.Equal(t, 500, r.TimeToFullMinutes)
	assert.False(t, r.HasDiscrepancy)
	assert.Equal(t, StatusCollecting, r.Status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name        string
		current     float64
		discrepancy bool
		collecting  bool
		want        Status
	}{
		{"overflow beats everything", 950, true, true, StatusCritical},
		{"discrepancy warns", 500, true, true, StatusWarning},
		{"collecting", 500, false, true, StatusCollecting},
		{"normal", 500, false, false, StatusNormal},
		{"boundary is not critical", 900, false, false, StatusNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.current, 1000, tt.discrepancy, tt.collecting))
		})
	}
}

func TestSummarize(t *testing.T) {
	readings := []Reading{
		{Descriptor: Descriptor{ID: "a", MaxVolume: 1000}, CurrentVolume: 500, Status: StatusCollecting},
		{Descriptor: Descriptor{ID: "b", MaxVolume: 1000}, CurrentVolume: 250, Status: StatusWarning, HasDiscrepancy: true},
	}
	s := Summarize(readings)
	assert.Equal(t, 750.0, s.TotalVolume)
	assert.Equal(t, 2000.0, s.TotalCapacity)
	assert.Equal(t, 1, s.ActiveCollections)
	assert.Equal(t, 1, s.Discrepancies)
	assert.Equal(t, 38, s.EfficiencyPercent)

	assert.Equal(t, NetworkSummary{}, Summarize(nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		variance float64
		want     Severity
	}{
		{0, SeverityLow},
		{5, SeverityLow},
		{-5, SeverityLow},
		{5.01, SeverityMedium},
		{-10, SeverityMedium},
		{10, SeverityMedium},
		{10.01, SeverityHigh},
		{-12, SeverityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.variance), "variance %v", tt.variance)
	}
}

func TestNewDiscrepancy(t *testing.T) {
	ticket := Ticket{ID: "t1", CauldronID: "c1", Date: "2025-10-01", Volume: 100, Courier: "courier_witch_a"}

	d := NewDiscrepancy(3, ticket, "Crimson Brew", -12, false)
	assert.Equal(t, "disc_3", d.ID)
	assert.Equal(t, SeverityHigh, d.Severity)
	assert.Equal(t, 88.0, d.ActualVolume)
	assert.Equal(t, 100.0, d.ExpectedVolume)
	assert.Equal(t, "courier_witch_a", d.Courier)
	assert.Equal(t, "Transport ticket shows 12L less than actual drain volume", d.Description)

	d = NewDiscrepancy(0, ticket, "Crimson Brew", 3.1, true)
	assert.Equal(t, SeverityLow, d.Severity)
	assert.True(t, d.Resolved)
	assert.Equal(t, "Transport ticket shows 3.1L more than actual drain volume", d.Description)
}

func testTickets(n int) []Ticket {
	out := make([]Ticket, n)
	for i := range out {
		out[i] = Ticket{
			ID:         "t",
			CauldronID: testDescriptors[i%len(testDescriptors)].ID,
			Date:       "2025-10-01",
			Volume:     float64(50 + i),
		}
	}
	return out
}

func TestSynthesizeDiscrepanciesInvariants(t *testing.T) {
	src := NewSource(3)
	tickets := testTickets(24)

	for run := 0; run < 200; run++ {
		ds := SynthesizeDiscrepancies(src, tickets, testDescriptors)
		assert.LessOrEqual(t, len(ds), 15)
		for _, d := range ds {
			assert.Equal(t, d.ExpectedVolume+d.Variance, d.ActualVolume)
			assert.Equal(t, Classify(d.Variance), d.Severity)
			assert.GreaterOrEqual(t, d.Variance, -10.0)
			assert.LessOrEqual(t, d.Variance, 10.0)
			assert.NotEqual(t, SeverityHigh, d.Severity)
		}
	}
}

func TestSynthesizeDiscrepanciesSelection(t *testing.T) {
	// select, variance 0.8 -> 6, resolved; then skip; repeat
	src := &seqSource{vals: []float64{0.1, 0.8, 0.2, 0.9}}
	tickets := []Ticket{
		{CauldronID: "cauldron_001", Volume: 100},
		{CauldronID: "nowhere", Volume: 40},
	}

	ds := SynthesizeDiscrepancies(src, tickets, testDescriptors)
	require.Len(t, ds, 1)
	assert.Equal(t, "disc_0", ds[0].ID)
	assert.Equal(t, "Crimson Brew", ds[0].CauldronName)
	assert.Equal(t, 6.0, ds[0].Variance)
	assert.Equal(t, SeverityMedium, ds[0].Severity)
	assert.True(t, ds[0].Resolved)

	src = &seqSource{vals: []float64{0.1, 0.5, 0.9}}
	ds = SynthesizeDiscrepancies(src, tickets[1:], testDescriptors)
	require.Len(t, ds, 1)
	assert.Equal(t, unknownCauldronName, ds[0].CauldronName)

	assert.NotNil(t, SynthesizeDiscrepancies(NewSource(1), nil, testDescriptors))
}

func TestApplyResolutions(t *testing.T) {
	ds := []Discrepancy{{ID: "disc_1"}, {ID: "disc_2"}, {ID: "disc_3", Resolved: true}}
	out := ApplyResolutions(ds, []string{"disc_2", "disc_9"})

	assert.False(t, out[0].Resolved)
	assert.True(t, out[1].Resolved)
	assert.True(t, out[2].Resolved)
	assert.False(t, ds[1].Resolved, "input must not be mutated")
}

func TestGenerateHistory(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	points := GenerateHistory(NewSource(11), testDescriptors, 7, start)

	require.Len(t, points, 7*24)
	for i, p := range points {
		if i > 0 {
			assert.True(t, p.Timestamp.After(points[i-1].Timestamp))
		}
		require.Len(t, p.Values, len(testDescriptors))
		for id, v := range p.Values {
			assert.GreaterOrEqual(t, v, 100, "%s at %d", id, i)
		}
	}
	assert.Equal(t, start, points[0].Timestamp)
	assert.Equal(t, "Oct 1, 00h", points[0].Label)

	assert.Empty(t, GenerateHistory(NewSource(11), testDescriptors, 0, start))
	assert.Empty(t, GenerateHistory(NewSource(11), testDescriptors, -3, start))
}

func TestGenerateHistoryFloor(t *testing.T) {
	src := &seqSource{vals: []float64{0}}
	points := GenerateHistory(src, []Descriptor{{ID: "tiny", MaxVolume: 50}}, 1, time.Now())
	for _, p := range points {
		assert.Equal(t, 100, p.Values["tiny"])
	}
}

func TestSeverityCounts(t *testing.T) {
	ds := []Discrepancy{
		{Severity: SeverityHigh},
		{Severity: SeverityMedium, Resolved: true},
		{Severity: SeverityLow},
		{Severity: SeverityLow, Resolved: true},
	}
	assert.Equal(t, SeverityCount{Total: 4, High: 1, Medium: 1, Low: 2, Unresolved: 2}, SeverityCounts(ds))
}

func TestDailyStats(t *testing.T) {
	tickets := []Ticket{
		{CauldronID: "a", Date: "2025-10-02", Volume: 10.5},
		{CauldronID: "a", Date: "2025-10-01", Volume: 20},
		{CauldronID: "b", Date: "2025-10-01", Volume: 30},
	}
	ds := []Discrepancy{{Date: "2025-10-01"}}

	stats := DailyStats(tickets, ds)
	require.Len(t, stats, 2)
	assert.Equal(t, DailyStat{Date: "2025-10-01", TotalTickets: 2, TotalCollected: 50, DiscrepancyCount: 1, CauldronsActive: 2}, stats[0])
	assert.Equal(t, "2025-10-02", stats[1].Date)
	assert.Equal(t, 10.5, stats[1].TotalCollected)
}

func TestFlagCouriers(t *testing.T) {
	var ds []Discrepancy
	for i := 0; i < 3; i++ {
		ds = append(ds, Discrepancy{Courier: "courier_witch_b", Variance: -2})
	}
	for i := 0; i < 4; i++ {
		ds = append(ds, Discrepancy{Courier: "courier_witch_a", Variance: 1})
	}
	ds = append(ds,
		Discrepancy{Courier: "courier_witch_c"},
		Discrepancy{Courier: "courier_witch_c"},
		Discrepancy{Courier: "courier_witch_c", Resolved: true},
	)

	flags := FlagCouriers(ds, 3)
	require.Len(t, flags, 2)
	assert.Equal(t, "courier_witch_a", flags[0].Courier)
	assert.Equal(t, 4, flags[0].DiscrepancyCount)
	assert.Equal(t, "courier_witch_b", flags[1].Courier)
	assert.Equal(t, -6.0, flags[1].NetVariance)
	assert.Equal(t, "under_review", flags[1].Status)
}
