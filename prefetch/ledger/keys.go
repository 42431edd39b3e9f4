package ledger

// Key layout, relative to the configured prefix:
//
//	daily_<2006-01-02>            aggregate spend for the day
//	monthly_<2006-01>             aggregate spend for the month
//	daily_<resource>_<date>       per-pool spend for the day
//	monthly_<resource>_<month>    per-pool spend for the month

// DailyKey is the aggregate daily counter key.
func DailyKey(prefix, day string) string { return prefix + "daily_" + day }

// MonthlyKey is the aggregate monthly counter key.
func MonthlyKey(prefix, month string) string { return prefix + "monthly_" + month }

// DailyResourceKey is the per-pool daily counter key.
func DailyResourceKey(prefix string, r Resource, day string) string {
	return prefix + "daily_" + string(r) + "_" + day
}

// MonthlyResourceKey is the per-pool monthly counter key.
func MonthlyResourceKey(prefix string, r Resource, month string) string {
	return prefix + "monthly_" + string(r) + "_" + month
}
