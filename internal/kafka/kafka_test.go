package kafka

import (
	"testing"
)

func TestBaseOptsValidation(t *testing.T) {
	if _, err := baseOpts(Config{}); err == nil {
		t.Error("expected error for missing bootstrap servers")
	}

	_, err := baseOpts(Config{
		BootstrapServers: []string{"localhost:9092"},
		Security:         SecuritySASLPlaintext,
		Mechanism:        "GSSAPI",
	})
	if err == nil {
		t.Error("expected error for unsupported SASL mechanism")
	}

	for _, mech := range []SASLMechanism{SASLPlain, SASLScramSha256, SASLScramSha512, ""} {
		_, err := baseOpts(Config{
			BootstrapServers: []string{"localhost:9092"},
			Security:         SecuritySASLSSL,
			Mechanism:        mech,
			Username:         "u",
			Password:         "p",
		})
		if err != nil {
			t.Errorf("mechanism %q: unexpected error %v", mech, err)
		}
	}
}

func TestACLBuilderValidation(t *testing.T) {
	valid := ACL{
		ResourceType: ResourceTopic,
		ResourceName: "orders",
		PatternType:  PatternLiteral,
		Principal:    "User:alice",
		Host:         "*",
		Operation:    "read",
		Permission:   PermissionAllow,
	}
	if _, err := aclBuilder(valid); err != nil {
		t.Errorf("valid ACL rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ACL)
	}{
		{"unknown resource type", func(a *ACL) { a.ResourceType = "quota" }},
		{"unknown pattern type", func(a *ACL) { a.PatternType = "regex" }},
		{"unknown operation", func(a *ACL) { a.Operation = "observe" }},
		{"unknown permission", func(a *ACL) { a.Permission = "maybe" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acl := valid
			tc.mutate(&acl)
			if _, err := aclBuilder(acl); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestACLOperationNames(t *testing.T) {
	for name := range aclOperations {
		if _, err := aclOperation(name); err != nil {
			t.Errorf("operation %q: %v", name, err)
		}
	}
	if _, err := aclOperation("READ"); err != nil {
		t.Error("operation lookup should be case-insensitive")
	}
	if _, err := aclOperation("bogus"); err == nil {
		t.Error("expected error for unknown operation")
	}
}
