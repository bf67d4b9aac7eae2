package service

import (
	"context"
	"errors"
	"strings"

	"liveblood/internal/auth"
	"liveblood/internal/models"

	"gorm.io/gorm"
)

// UserService 封装注册、登录与第三方账号绑定。
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

type RegisterInput struct {
	Email           string `json:"email" form:"email"`
	Username        string `json:"username" form:"username"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirmpassword"`
}

func (in *RegisterInput) validate() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	verr := &ValidationError{}
	if in.Email == "" || in.Username == "" || in.Password == "" || in.ConfirmPassword == "" {
		verr.add("please fill in all fields")
	}
	if in.Password != in.ConfirmPassword {
		verr.add("passwords do not match")
	}
	if len(in.Password) < 6 {
		verr.add("password should be at least 6 characters")
	}
	if len(in.Password) > 72 {
		verr.add("password should be at most 72 characters")
	}
	if len(in.Username) > 64 {
		verr.add("username should be at most 64 characters")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		verr.add("email is invalid")
	}
	return verr.orNil()
}

type UserDTO struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Email: u.Email, Username: u.Username}
}

// Register 校验表单并创建本地账号。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*UserDTO, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", in.Email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{Email: in.Email, Username: in.Username, PasswordHash: &hash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// Login 按邮箱校验密码。仅通过 Google 注册的账号没有密码，一律视为凭据错误。
func (s *UserService) Login(ctx context.Context, email, password string) (*UserDTO, error) {
	var user models.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil || !auth.VerifyPassword(*user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// FindOrCreateGoogle 先按 google_id 查找账号；找不到时，仅当 Google 确认过邮箱才按邮箱
// 绑定已有的本地账号，否则新建。未验证的邮箱撞上已有账号返回 ErrEmailUnverified。
func (s *UserService) FindOrCreateGoogle(ctx context.Context, profile auth.GoogleProfile) (*UserDTO, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("google_id = ?", profile.ID).First(&user).Error
	if err == nil {
		dto := toUserDTO(user)
		return &dto, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	gid := profile.ID
	err = db.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		if !profile.VerifiedEmail || user.GoogleID != nil {
			return nil, ErrEmailUnverified
		}
		if err := db.Model(&user).Update("google_id", gid).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		name := strings.TrimSpace(profile.Name)
		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		user = models.User{Email: email, Username: name, GoogleID: &gid}
		if err := db.Create(&user).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*UserDTO, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}
