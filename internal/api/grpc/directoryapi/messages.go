package directoryapi

// Employee is a directory record on the wire. Photo holds JPEG bytes.
type Employee struct {
	ID         *int64 `json:"id,omitempty"`
	Key        string `json:"key"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Photo      []byte `json:"photo,omitempty"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"`
}

// AddRequest carries the full name and an encoded image (JPEG, PNG, GIF,
// BMP or WebP).
type AddRequest struct {
	Name  string `json:"name"`
	Photo []byte `json:"photo"`
}

type AddResponse struct {
	Employee Employee `json:"employee"`
}

type RemoveRequest struct {
	ID int64 `json:"id"`
}

type Empty struct{}

type ListRequest struct{}

type ListResponse struct {
	Employees []Employee `json:"employees"`
}

// MarkSeenRequest sets LastSeenAt of employee ID. A zero At means now.
type MarkSeenRequest struct {
	ID int64 `json:"id"`
	At int64 `json:"at,omitempty"`
}

type MarkSeenResponse struct {
	Employee Employee `json:"employee"`
}

type ReconcileResponse struct {
	Next int64 `json:"next"`
}

type ObserveRequest struct{}

// Snapshot is one published directory state, newest first.
type Snapshot struct {
	Seq       uint64     `json:"seq"`
	Employees []Employee `json:"employees"`
}
