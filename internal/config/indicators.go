package config

// DefaultIndicators is the static allow-list of SDG indicator codes carried
// into the export. Membership is an exact string match on the Indicator column.
var DefaultIndicators = []string{
	"1.1.1",
	"1.2.1",
	"1.3.1",
	"1.4.1",
	"1.5.1",
	"1.5.2",
	"1.5.3",
	"1.5.4",
	"1.a.2",
	"2.1.1",
	"2.1.2",
	"2.2.1",
	"2.2.2",
	"2.3.1",
	"2.5.1",
	"2.5.2",
	"2.a.1",
	"2.a.2",
	"2.b.1",
	"2.c.1",
	"3.1.1",
	"3.1.2",
	"3.2.1",
	"3.2.2",
	"3.3.1",
	"3.3.2",
	"3.3.3",
	"3.3.4",
	"3.3.5",
	"3.4.1",
	"3.4.2",
	"3.5.2",
	"3.6.1",
	"3.7.1",
	"3.7.2",
	"3.8.1",
	"3.9.1",
	"3.9.2",
	"3.9.3",
	"3.a.1",
	"3.b.1",
	"3.c.1",
	"4.1.1",
	"4.2.2",
	"4.3.1",
	"4.5.1",
	"4.6.1",
	"4.a.1",
	"4.c.1",
	"5.2.1",
	"5.3.1",
	"5.5.1",
	"5.5.2",
	"5.b.1",
	"6.1.1",
	"6.2.1",
	"6.3.1",
	"6.4.2",
	"6.5.1",
	"6.6.1",
	"7.1.1",
	"7.1.2",
	"7.2.1",
	"7.3.1",
	"7.a.1",
	"8.1.1",
	"8.2.1",
	"8.5.2",
	"8.6.1",
	"8.7.1",
	"8.10.1",
	"9.1.2",
	"9.2.1",
	"9.4.1",
	"9.5.1",
	"9.c.1",
	"10.1.1",
	"10.4.1",
	"10.7.2",
	"11.1.1",
	"11.6.2",
	"12.2.2",
	"12.4.1",
	"12.b.1",
	"13.1.1",
	"13.2.2",
	"14.1.1",
	"14.4.1",
	"14.5.1",
	"15.1.1",
	"15.1.2",
	"15.2.1",
	"15.5.1",
	"16.1.1",
	"16.2.2",
	"16.9.1",
	"17.1.1",
	"17.2.1",
	"17.6.1",
	"17.8.1",
}

// AllowSet builds an exact-match membership test for codes.
func AllowSet(codes []string) func(string) bool {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(code string) bool {
		_, ok := set[code]
		return ok
	}
}
