package utils

// PermError marks a failure that retrying will not fix, such as a 404 from a listing page.
type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

// IsPermanent reports whether err, or anything it wraps, declares itself permanent.
func IsPermanent(err error) bool {
	for err != nil {
		if p, ok := err.(interface{ IsPermanent() bool }); ok && p.IsPermanent() {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
