package db

import (
	"errors"

	"github.com/dkortekaas/declair/gate"
	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/gorm"
)

// resourceActions lists every permission resource with the actions it knows.
var resourceActions = []struct {
	Resource string
	Actions  []gate.Action
}{
	{"customer", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
	{"project", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
	{"time_entry", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
	{"expense", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete, gate.ActionImport}},
	{"invoice", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete, gate.ActionSend}},
	{"credit_note", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate}},
	{"quote", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete, gate.ActionSend}},
	{"recurring_invoice", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
	{"vat_report", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionSubmit}},
	{"export", []gate.Action{gate.ActionExport}},
	{"company", []gate.Action{gate.ActionView, gate.ActionUpdate}},
	{"currency", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate}},
	{"discount_code", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
	{"invitation", []gate.Action{gate.ActionList, gate.ActionCreate, gate.ActionDelete}},
	{"audit", []gate.Action{gate.ActionView}},
	{"user", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionUpdate}},
	{"profile", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
}

// businessResources are the records an account owner manages.
var businessResources = []string{
	"customer", "project", "time_entry", "expense", "invoice", "credit_note", "quote",
	"recurring_invoice", "vat_report", "export", "company", "currency", "audit", "invitation",
}

func readOnly() []string {
	var codes []string
	for _, ra := range resourceActions {
		for _, a := range ra.Actions {
			if a == gate.ActionList || a == gate.ActionView {
				codes = append(codes, string(gate.NewPermission(ra.Resource, a)))
			}
		}
	}
	return codes
}

func wildcards(resources ...string) []string {
	codes := make([]string, len(resources))
	for i, r := range resources {
		codes[i] = r + ":*"
	}
	return codes
}

// DefaultProfile is assigned to users created by signup.
const DefaultProfile = "owner"

type profileSeed struct {
	Name        string
	Description string
	Permissions []string
}

func profileSeeds() []profileSeed {
	return []profileSeed{
		{"admin", "Full system administrator with all permissions", []string{"*:*"}},
		{DefaultProfile, "Manages all records of the own administration", wildcards(businessResources...)},
		{"accountant", "Bookkeeping: invoices, expenses, VAT returns and exports", append(
			wildcards("invoice", "credit_note", "expense", "vat_report", "export"),
			"customer:list", "customer:view", "time_entry:list", "time_entry:view", "company:view", "audit:view",
		)},
		{"viewer", "Read-only access to all resources", readOnly()},
	}
}

// SeedPermissions creates every resource:action pair plus the wildcards.
func SeedPermissions(conn *gorm.DB) error {
	if err := firstOrCreatePermission(conn, "*", "*", "Full system access"); err != nil {
		return err
	}
	for _, ra := range resourceActions {
		if err := firstOrCreatePermission(conn, ra.Resource, "*", "All "+ra.Resource+" actions"); err != nil {
			return err
		}
		for _, a := range ra.Actions {
			if err := firstOrCreatePermission(conn, ra.Resource, string(a), ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func firstOrCreatePermission(conn *gorm.DB, resource, action, description string) error {
	perm := models.Permission{ResourceType: resource, Action: action, Description: description}
	return conn.Where("resource_type = ? AND action = ?", resource, action).FirstOrCreate(&perm).Error
}

// SeedProfiles creates the system profiles and (re)assigns their permissions.
func SeedProfiles(conn *gorm.DB) error {
	if err := SeedPermissions(conn); err != nil {
		return err
	}
	for _, p := range profileSeeds() {
		var profile models.Profile
		err := conn.Where("name = ?", p.Name).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{Name: p.Name, Description: p.Description, IsSystem: true}
			err = conn.Create(&profile).Error
		}
		if err != nil {
			return err
		}

		perms := make([]models.Permission, 0, len(p.Permissions))
		for _, code := range p.Permissions {
			resource, action := gate.Permission(code).Parse()
			var perm models.Permission
			if err := conn.Where("resource_type = ? AND action = ?", resource, string(action)).
				First(&perm).Error; err != nil {
				return err
			}
			perms = append(perms, perm)
		}
		if err := conn.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
	}
	return nil
}

// SeedCurrencies inserts the supported currencies.
func SeedCurrencies(conn *gorm.DB) error {
	currencies := []models.Currency{
		{Code: "EUR", Name: "Euro", Symbol: "€", Decimals: 2, Active: true},
		{Code: "USD", Name: "US Dollar", Symbol: "$", Decimals: 2, Active: true},
		{Code: "GBP", Name: "Pound Sterling", Symbol: "£", Decimals: 2, Active: true},
		{Code: "CHF", Name: "Swiss Franc", Symbol: "CHF", Decimals: 2, Active: true},
	}
	for _, c := range currencies {
		c := c
		if err := conn.Where("code = ?", c.Code).FirstOrCreate(&c).Error; err != nil {
			return err
		}
	}
	return nil
}

// Seed runs every seeder; all of them are idempotent.
func Seed(conn *gorm.DB) error {
	if err := SeedProfiles(conn); err != nil {
		return err
	}
	return SeedCurrencies(conn)
}
