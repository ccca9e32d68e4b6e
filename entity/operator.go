package entity

const (
	RoleOperator = "operator"
	RoleChannel  = "channel"
)

// Operator is the authenticated principal behind a request.
type Operator struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}
