package schema

// profileSchema returns a valid schema used across tests.
func profileSchema() Schema {
	return Schema{
		Name:    "Profile",
		Version: 1,
		Fields: map[string]FieldDefinition{
			"bio": {
				Type: Single,
				Access: AccessPolicy{
					Read:  AccessRule{MaxDistance: Uint32(5)},
					Write: AccessRule{MaxDistance: Uint32(1)},
				},
				Fee: FeePolicy{BaseMultiplier: 1},
			},
			"email": {
				Type: Single,
				Access: AccessPolicy{
					Read:  AccessRule{MaxDistance: Uint32(5)},
					Write: AccessRule{MaxDistance: Uint32(0)},
				},
				Fee: FeePolicy{
					BaseMultiplier:      10,
					TrustScaling:        Linear(2, 0, 1),
					MinPaymentThreshold: Uint64(5),
				},
			},
		},
	}
}
