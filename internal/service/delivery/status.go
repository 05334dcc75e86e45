package delivery

type Status int

const (
	StatusPending Status = iota + 1
	StatusDelivered
	StatusNotFound
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDelivered:
		return "delivered"
	case StatusNotFound:
		return "not_found"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
