package notify

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.EmailLog{}))
	return db
}

func TestEmitRecordsEmailLog(t *testing.T) {
	db := newTestDB(t)

	user := &models.User{ID: uuid.NewString(), Name: "Asha", Email: "asha@example.com"}
	require.NoError(t, db.Create(user).Error)

	svc := NewService(db, &config.MailConfig{FromAddress: "orders@example.com"}, zap.NewNop())
	defer svc.Stop()

	ord := &models.Order{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		OrderNumber: "IND0000000001",
		FinalAmount: decimal.NewFromInt(800),
	}
	svc.Emit("order_placed", ord)

	require.Eventually(t, func() bool {
		var count int64
		db.Model(&models.EmailLog{}).Where("user_id = ?", user.ID).Count(&count)
		return count == 1
	}, 3*time.Second, 20*time.Millisecond)

	var log models.EmailLog
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&log).Error)
	require.Equal(t, "asha@example.com", log.Email)
	require.Equal(t, "order_placed", log.EmailType)
	require.Contains(t, log.Subject, "IND0000000001")
	require.Contains(t, log.Message, "800.00")
	require.True(t, log.IsSent)
}

func TestEmitUnknownUserIsDropped(t *testing.T) {
	db := newTestDB(t)

	svc := NewService(db, &config.MailConfig{}, zap.NewNop())
	defer svc.Stop()

	svc.Emit("order_placed", &models.Order{
		ID: uuid.NewString(), UserID: "ghost", OrderNumber: "IND0000000002",
	})

	// fire-and-forget: nothing recorded, nothing crashes
	time.Sleep(200 * time.Millisecond)
	var count int64
	db.Model(&models.EmailLog{}).Count(&count)
	require.Zero(t, count)
}

func TestRenderOrderEmailEvents(t *testing.T) {
	user := &models.User{Name: "Ravi"}
	ord := &models.Order{OrderNumber: "IND0000000003", FinalAmount: decimal.NewFromInt(100)}

	for _, event := range []string{"order_placed", "order_confirmed", "order_shipped", "order_cancelled"} {
		subject, body := renderOrderEmail(event, ord, user)
		require.NotEmpty(t, subject, "event %s", event)
		require.Contains(t, body, "Ravi")
	}

	subject, _ := renderOrderEmail("unknown_event", ord, user)
	require.Empty(t, subject)
}
