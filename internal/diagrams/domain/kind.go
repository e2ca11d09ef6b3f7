package domain

import "fmt"

// Kind identifies the UML diagram family a diagram belongs to. The value
// travels on the wire unchanged (generation service field "tipo_diagrama").
type Kind string

const (
	KindClass     Kind = "class"
	KindSequence  Kind = "sequence"
	KindActivity  Kind = "activity"
	KindUseCase   Kind = "usecase"
	KindComponent Kind = "component"
	KindPackage   Kind = "package"
)

var kinds = map[Kind]bool{
	KindClass:     true,
	KindSequence:  true,
	KindActivity:  true,
	KindUseCase:   true,
	KindComponent: true,
	KindPackage:   true,
}

func (k Kind) Valid() bool { return kinds[k] }

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}
