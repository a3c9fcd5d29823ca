// backfill-last-modified fills NULL last_modified_at on orders from updated_at.
// Orders created before the offline sync rollout never carried a device
// watermark; without one, conflict resolution falls back to created_at, which
// loses edits made after creation. updated_at is the closest honest stand-in.
package main

import (
	"flag"
	"strings"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/models"
	"github.com/sirupsen/logrus"
)

func main() {
	businessId := flag.String("business-id", "", "Business ID to backfill (optional; default = all)")
	dryRun := flag.Bool("dry-run", true, "Print actions without writing")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		panic("database not initialized")
	}
	logger := config.GetLogger()
	if logger == nil {
		logger = logrus.New()
	}

	var businessIds []string
	if strings.TrimSpace(*businessId) != "" {
		businessIds = []string{strings.TrimSpace(*businessId)}
	} else {
		var ids []string
		if err := db.Model(&models.Business{}).Pluck("id", &ids).Error; err != nil {
			panic(err)
		}
		businessIds = ids
	}

	for _, bid := range businessIds {
		if bid == "" {
			continue
		}

		var count int64
		if err := db.Model(&models.Order{}).
			Where("business_id = ? AND last_modified_at IS NULL", bid).
			Count(&count).Error; err != nil {
			panic(err)
		}
		if count == 0 {
			continue
		}

		if *dryRun {
			logger.WithFields(logrus.Fields{"business_id": bid, "orders": count}).Info("dry-run: would backfill last_modified_at from updated_at")
			continue
		}

		res := db.Exec(
			"UPDATE orders SET last_modified_at = updated_at WHERE business_id = ? AND last_modified_at IS NULL",
			bid,
		)
		if res.Error != nil {
			panic(res.Error)
		}
		logger.WithFields(logrus.Fields{"business_id": bid, "orders": res.RowsAffected}).Info("backfilled last_modified_at")
	}
}
