package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gustavoferreira/dropmart-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestProductsMigrationGuardsStock(t *testing.T) {
	content := readMigration(t, "*_create_suppliers_products.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS products",
		"CHECK (stock >= 0)",
		"FOREIGN KEY (supplier_id) REFERENCES suppliers(id)",
		"DROP TABLE IF EXISTS products",
	}
	for _, check := range checks {
		if !strings.Contains(content, check) {
			t.Fatalf("products migration missing %q", check)
		}
	}
}

func TestOrdersMigrationSnapshotsAndStatuses(t *testing.T) {
	content := readMigration(t, "*_create_orders.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"'failed_checkout'",
		"supplier_notified boolean NOT NULL DEFAULT false",
		"unit_cost numeric(12,2) NOT NULL",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
	}
	for _, check := range checks {
		if !strings.Contains(content, check) {
			t.Fatalf("orders migration missing %q", check)
		}
	}
}

func TestPaymentsMigrationDeduplicatesProviderID(t *testing.T) {
	content := readMigration(t, "*_create_payments_order_logs.sql")

	if !strings.Contains(content, "CONSTRAINT idx_payments_provider_payment_id UNIQUE (provider_payment_id)") {
		t.Fatalf("payments migration must enforce provider payment id uniqueness")
	}
	if !strings.Contains(content, "CREATE TABLE IF NOT EXISTS order_logs") {
		t.Fatalf("order_logs table missing")
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir failed validation: %v", err)
	}
}
