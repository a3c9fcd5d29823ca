// seed-admin creates or updates the admin console user (username: ordersAdmin).
// Admin users have role = 'A'; they bypass the tenant guard on every query.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/models"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "ordersAdmin"
	adminPassword = "0rder$Admin"
	adminName     = "Orders Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	// The admin row is attached to a real business so tenant-scoped reads
	// done through this user still resolve; pick the first business in the DB.
	var biz models.Business
	if err := db.WithContext(ctx).Model(&models.Business{}).Select("id").First(&biz).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fmt.Fprintln(os.Stderr, "no businesses found in DB. Create a business first, then rerun seed-admin.")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
		os.Exit(1)
	}

	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var existing models.User
	err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		// Create new admin user
		if _, err := models.CreateUser(ctx, &models.NewUser{
			BusinessId: businessID,
			Username:   adminUsername,
			Name:       adminName,
			Password:   adminPassword,
			Role:       models.UserRoleAdmin,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		return
	}

	// Update existing user: ensure password and admin role
	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":    string(hashed),
		"name":        adminName,
		"is_active":   utils.NewTrue(),
		"business_id": businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = config.RemoveRedisKey("User:" + adminUsername)
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
}
