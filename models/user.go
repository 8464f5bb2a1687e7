package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Email     string    `gorm:"size:100;not null;unique" json:"email" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	ImageUrl  string    `json:"image_url"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('customer','vendor','admin');default:customer" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Email    string   `json:"email" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Phone    string   `json:"phone"`
	Address  string   `json:"address"`
	ImageUrl string   `json:"image_url"`
	Password string   `json:"password" binding:"required"`
	Role     UserRole `json:"role"`
}

// Session is the object stored in redis under Token:$token.
type Session struct {
	UserId  int    `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	ShopId  int    `json:"shop_id"`
	IsAdmin bool   `json:"is_admin"`
}

type LoginInfo struct {
	Token  string   `json:"token"`
	Name   string   `json:"name"`
	Role   UserRole `json:"role"`
	ShopId int      `json:"shop_id,omitempty"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + fmt.Sprint(token))
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	email, ok := utils.GetUserEmailFromContext(ctx)
	if !ok || email == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+email, token); err != nil {
		return false, err
	}
	return true, nil
}

func Login(ctx context.Context, email string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var err error
	var result LoginInfo

	user := User{}

	err = db.WithContext(ctx).Model(&User{}).Where("email = ?", strings.ToLower(email)).Take(&user).Error
	if err != nil {
		return &result, errors.New("invalid email or password")
	}

	// check login credentials
	err = utils.ComparePassword(user.Password, password)

	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return &result, errors.New("invalid email or password")
	}

	isActive := utils.DereferencePtr(user.IsActive)
	if !isActive {
		return &result, errors.New("user is disabled")
	}

	// generate token & response
	token := uuid.New()
	result.Token = token.String()
	result.Name = user.Name
	result.Role = user.Role

	session := Session{
		UserId:  user.ID,
		Email:   user.Email,
		Name:    user.Name,
		IsAdmin: user.Role == UserRoleAdmin,
	}
	if user.Role == UserRoleVendor {
		var shopId int
		if err := db.WithContext(ctx).Model(&VendorShop{}).
			Where("owner_id = ?", user.ID).Select("id").Scan(&shopId).Error; err != nil {
			return nil, err
		}
		session.ShopId = shopId
		result.ShopId = shopId
	}

	// store token in redis
	token_lifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		return &result, err
	}

	// add new token to the user's tokens set
	if err := config.AddRedisSet("Tokens:"+user.Email, token.String()); err != nil {
		return nil, err
	}
	if err := config.SetRedisObject("Token:"+token.String(), &session, time.Duration(token_lifespan)*time.Hour); err != nil {
		return &result, err
	}

	return &result, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	var count int64

	if !utils.IsValidEmail(input.Email) {
		return &User{}, errors.New("invalid email address")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return &User{}, errors.New("invalid phone number")
		}
	}

	err := db.WithContext(ctx).Model(&User{}).Where("email = ?", input.Email).Count(&count).Error
	if err != nil {
		return &User{}, err
	}
	if count > 0 {
		return &User{}, errors.New("duplicate email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return &User{}, err
	}
	input.Email = strings.ToLower(input.Email)

	role := input.Role
	if role == "" || role == UserRoleAdmin {
		// admins are seeded, never self-registered
		role = UserRoleCustomer
	}

	user := User{
		Email:    input.Email,
		Name:     html.EscapeString(strings.TrimSpace(input.Name)),
		Phone:    input.Phone,
		Address:  input.Address,
		ImageUrl: input.ImageUrl,
		Password: string(hashedPassword),
		IsActive: utils.NewTrue(),
		Role:     role,
	}

	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return &User{}, err
	}
	user.Password = ""
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	db := config.GetDB()
	var result User

	err := db.WithContext(ctx).First(&result, id).Error

	if err != nil {
		return &result, utils.ErrorRecordNotFound
	}

	result.PrepareGive()

	return &result, nil
}

func GetAllUsers(ctx context.Context) ([]*User, error) {

	db := config.GetDB()
	var results []*User

	if err := db.WithContext(ctx).Find(&results).Error; err != nil {
		return results, errors.New("no user")
	}

	for i, u := range results {
		u.Password = ""
		results[i] = u
	}

	return results, nil
}
