package models

// AllModels lists every table this service owns or reads, in dependency order for AutoMigrate
func AllModels() []any {
	return []any{
		&Quiz{},
		&Lead{},
		&Campaign{},
		&DispatchLogEntry{},
		&CreditBalance{},
		&CreditPurchase{},
		&AuditLog{},
	}
}
