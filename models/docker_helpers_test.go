package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

// startTestStack boots throwaway MySQL + Redis containers, connects the
// globals and migrates the schema. Callers get a clean database per test.
func startTestStack(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "marketplace_test")
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
}

func adminContext(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	admin, err := models.CreateUser(ctx, &models.NewUser{
		Email:    fmt.Sprintf("admin-%d@test.local", time.Now().UnixNano()),
		Name:     "Admin",
		Password: "secret-pw",
	})
	if err != nil {
		t.Fatalf("CreateUser(admin): %v", err)
	}
	db := config.GetDB()
	if err := db.Model(&models.User{}).Where("id = ?", admin.ID).
		Update("role", models.UserRoleAdmin).Error; err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	ctx = utils.SetUserIdInContext(ctx, admin.ID)
	ctx = utils.SetUserNameInContext(ctx, admin.Name)
	ctx = utils.SetIsAdminInContext(ctx, true)
	return ctx
}

// newApprovedShop registers a vendor user, opens their shop and approves it
// with the given commission. Returns the vendor's context and the shop.
func newApprovedShop(t *testing.T, adminCtx context.Context, commission string) (context.Context, *models.VendorShop) {
	t.Helper()
	ctx := context.Background()
	vendor, err := models.CreateUser(ctx, &models.NewUser{
		Email:    fmt.Sprintf("vendor-%d@test.local", time.Now().UnixNano()),
		Name:     "Vendor",
		Password: "secret-pw",
	})
	if err != nil {
		t.Fatalf("CreateUser(vendor): %v", err)
	}
	ctx = utils.SetUserIdInContext(ctx, vendor.ID)
	ctx = utils.SetUserNameInContext(ctx, vendor.Name)

	shop, err := models.CreateVendorShop(ctx, &models.NewVendorShop{Name: fmt.Sprintf("Shop %d", vendor.ID)})
	if err != nil {
		t.Fatalf("CreateVendorShop: %v", err)
	}

	pct, err := decimal.NewFromString(commission)
	if err != nil {
		t.Fatalf("bad commission %q: %v", commission, err)
	}
	if _, err := models.ApproveVendorShop(adminCtx, shop.ID, pct); err != nil {
		t.Fatalf("ApproveVendorShop: %v", err)
	}

	ctx = utils.SetShopIdInContext(ctx, shop.ID)
	return ctx, shop
}

func newCustomerContext(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	customer, err := models.CreateUser(ctx, &models.NewUser{
		Email:    fmt.Sprintf("buyer-%d@test.local", time.Now().UnixNano()),
		Name:     "Buyer",
		Password: "secret-pw",
	})
	if err != nil {
		t.Fatalf("CreateUser(customer): %v", err)
	}
	ctx = utils.SetUserIdInContext(ctx, customer.ID)
	ctx = utils.SetUserNameInContext(ctx, customer.Name)
	return ctx
}

// newApprovedProduct creates a product with opening stock and passes it
// through moderation so it is purchasable.
func newApprovedProduct(t *testing.T, vendorCtx, adminCtx context.Context, name string, price, stock int64) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(vendorCtx, &models.NewProduct{
		Name:         name,
		Price:        decimal.NewFromInt(price),
		InitialStock: decimal.NewFromInt(stock),
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s): %v", name, err)
	}
	if _, err := models.ModerateProduct(adminCtx, product.ID, models.ProductStatusApproved); err != nil {
		t.Fatalf("ModerateProduct(%s): %v", name, err)
	}
	return product
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("marketplace-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("marketplace-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=marketplace_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
