// Package dbtest provides migrated in-memory SQLite databases and fixtures
// for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dkortekaas/declair/internal/db"
	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New opens a fresh in-memory database named after the test and migrates it.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(false))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(conn, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	return conn
}

// Seeded is New plus the profile and currency seed data.
func Seeded(t *testing.T) *gorm.DB {
	t.Helper()
	conn := New(t)
	if err := db.Seed(conn); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return conn
}

// User creates a user with the given plan.
func User(t *testing.T, conn *gorm.DB, email string, plan models.Plan) models.User {
	t.Helper()
	u := models.User{Email: email, Name: "Test", Password: "x", Plan: plan}
	if err := conn.Create(&u).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	return u
}

// Customer creates a customer owned by userID in the given country.
func Customer(t *testing.T, conn *gorm.DB, userID uint, country, vatNumber string) models.Customer {
	t.Helper()
	c := models.Customer{UserID: userID, Name: "Klant " + country, Email: "klant@example.nl", Country: country, VATNumber: vatNumber}
	if err := conn.Create(&c).Error; err != nil {
		t.Fatalf("customer: %v", err)
	}
	return c
}

// AssignProfile gives u the seeded profile with the given name.
func AssignProfile(t *testing.T, conn *gorm.DB, u *models.User, name string) {
	t.Helper()
	var p models.Profile
	if err := conn.Where("name = ?", name).First(&p).Error; err != nil {
		t.Fatalf("profile %s: %v", name, err)
	}
	if err := conn.Model(u).Update("profile_id", p.ID).Error; err != nil {
		t.Fatalf("assign profile: %v", err)
	}
	u.ProfileID = &p.ID
}
