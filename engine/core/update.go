package core

type UpdateStage uint8

const (
	// Input and window events.
	UpdateStagePreUpdate UpdateStage = iota
	UpdateStageUpdate
	// Recording, submission and presentation.
	UpdateStageRender
)

var updateStageNames = [...]string{
	UpdateStagePreUpdate: "PreUpdate",
	UpdateStageUpdate:    "Update",
	UpdateStageRender:    "Render",
}

func (s UpdateStage) String() string {
	if int(s) < len(updateStageNames) {
		return updateStageNames[s]
	}
	return "Unknown"
}

// UpdateStages lists every stage in the order a frame runs them.
func UpdateStages() []UpdateStage {
	return []UpdateStage{UpdateStagePreUpdate, UpdateStageUpdate, UpdateStageRender}
}

type Updatable interface {
	Update() error
}

// UpdateLoop runs registered updatables once per frame, stage by stage and in
// registration order within a stage.
type UpdateLoop interface {
	Register(u Updatable, stage UpdateStage)
	Deregister(u Updatable)
}
