package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"

    "github.com/yzsoft/activation-server/internal/model"
    "github.com/yzsoft/activation-server/internal/utils"
)

// UserRepo manages administrator accounts in the 'admin_users'
// table.
type UserRepo struct{ DB *sql.DB }

// NewUserRepo returns a UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// ErrUsernameExists is returned when the username is already taken.
var ErrUsernameExists = errors.New("username already exists")

// Create inserts an admin user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, username, password, role string, cost int) (uint64, error) {
    username = strings.ToLower(strings.TrimSpace(username))
    hash, err := utils.HashPassword(password, cost)
    if err != nil {
        return 0, err
    }
    res, err := r.DB.ExecContext(ctx,
        "INSERT INTO admin_users (username, password_hash, role) VALUES (?,?,?)",
        username, hash, role)
    if err != nil {
        if isDuplicateErr(err) {
            return 0, ErrUsernameExists
        }
        return 0, err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return 0, err
    }
    return uint64(id), nil
}

// GetByUsername fetches an admin user by normalized username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.AdminUser, error) {
    username = strings.ToLower(strings.TrimSpace(username))
    var u model.AdminUser
    err := r.DB.QueryRowContext(ctx,
        "SELECT id,username,password_hash,role,is_active,created_at,updated_at FROM admin_users WHERE username=? LIMIT 1",
        username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
    return u, err
}

// GetByID fetches an admin user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.AdminUser, error) {
    var u model.AdminUser
    err := r.DB.QueryRowContext(ctx,
        "SELECT id,username,password_hash,role,is_active,created_at,updated_at FROM admin_users WHERE id=? LIMIT 1",
        id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
    return u, err
}
