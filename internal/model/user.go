package model

import "time"

// AdminUser represents an administrator account as stored in the
// `admin_users` table.  Administrators manage channels, keys,
// sub-accounts and licenses through the provisioning API; they
// play no part in the activation protocol itself.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login name.
//  PasswordHash – bcrypt hashed password.
//  Role         – name of the role (ADMIN or VIEWER).
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type AdminUser struct {
    ID           uint64    // admin_users.id
    Username     string    // admin_users.username
    PasswordHash string    // admin_users.password_hash
    Role         string    // admin_users.role
    IsActive     bool      // admin_users.is_active
    CreatedAt    time.Time // admin_users.created_at
    UpdatedAt    time.Time // admin_users.updated_at
}

// AdminRefreshToken models an entry in the `admin_refresh_tokens`
// table.  Each refresh token belongs to an administrator and
// contains metadata for expiry and revocation.  The plain token is
// not stored; only its SHA-256 hash.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type AdminRefreshToken struct {
    ID        uint64     // admin_refresh_tokens.id
    UserID    uint64     // admin_refresh_tokens.user_id
    TokenHash string     // admin_refresh_tokens.token_hash
    ExpiresAt time.Time  // admin_refresh_tokens.expires_at
    RevokedAt *time.Time // admin_refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // admin_refresh_tokens.created_at
}
