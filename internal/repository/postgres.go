// Package repository provides PostgreSQL-backed persistence for the course
// catalog, user accounts, and subscription plans. Lecture entitlement rules
// are stored as raw JSONB; parsing them into typed rules is the service
// layer's job, so operator-authored rule data can never fail a read.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lecture is one piece of playable content inside a section.
type Lecture struct {
	ID              string          `json:"id"`
	SectionID       string          `json:"-"`
	Title           string          `json:"title"`
	DurationSeconds int64           `json:"durationSeconds"`
	VideoURL        string          `json:"videoUrl,omitempty"`
	PricingRules    json.RawMessage `json:"pricingRules"`
	Position        int             `json:"position"`
}

// Section is an ordered group of lectures.
type Section struct {
	ID       string    `json:"id"`
	CourseID string    `json:"-"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
	Lectures []Lecture `json:"lectures"`
}

// Course is the stored course aggregate. Price is in minor currency units.
type Course struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        int64     `json:"price"`
	InstructorID string    `json:"instructorId,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Sections     []Section `json:"sections"`
}

// PostgresRepository implements catalog, user, and plan persistence backed
// by a pgxpool connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository on top of pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const courseColumns = `id, name, description, price, COALESCE(instructor_id::text, ''), status, created_at, updated_at`

// GetCourse fetches one course aggregate with its sections and lectures in
// position order. Returns pgx.ErrNoRows (wrapped) if the course does not
// exist.
func (r *PostgresRepository) GetCourse(ctx context.Context, id string) (Course, error) {
	var course Course
	err := r.pool.QueryRow(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE id = $1
	`, id).Scan(
		&course.ID,
		&course.Name,
		&course.Description,
		&course.Price,
		&course.InstructorID,
		&course.Status,
		&course.CreatedAt,
		&course.UpdatedAt,
	)
	if err != nil {
		return Course{}, fmt.Errorf("get course: %w", err)
	}

	sections, err := r.sectionsForCourses(ctx, []string{course.ID})
	if err != nil {
		return Course{}, err
	}
	course.Sections = sections[course.ID]
	if course.Sections == nil {
		course.Sections = []Section{}
	}

	return course, nil
}

// ListCourses returns all course aggregates ordered by name.
func (r *PostgresRepository) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses := make([]Course, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var course Course
		if err := rows.Scan(
			&course.ID,
			&course.Name,
			&course.Description,
			&course.Price,
			&course.InstructorID,
			&course.Status,
			&course.CreatedAt,
			&course.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		course.Sections = []Section{}
		courses = append(courses, course)
		ids = append(ids, course.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list courses rows: %w", err)
	}

	if len(ids) == 0 {
		return courses, nil
	}

	sections, err := r.sectionsForCourses(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range courses {
		if s, ok := sections[courses[i].ID]; ok {
			courses[i].Sections = s
		}
	}

	return courses, nil
}

// sectionsForCourses loads the section/lecture trees for the given course
// IDs in two queries and groups them by course.
func (r *PostgresRepository) sectionsForCourses(ctx context.Context, courseIDs []string) (map[string][]Section, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, course_id, name, position
		FROM sections
		WHERE course_id = ANY($1)
		ORDER BY course_id, position, id
	`, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	byCourse := make(map[string][]Section)
	byID := make(map[string]int) // section ID -> index within its course slice
	sectionCourse := make(map[string]string)
	for rows.Next() {
		var section Section
		if err := rows.Scan(&section.ID, &section.CourseID, &section.Name, &section.Position); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		section.Lectures = []Lecture{}
		byID[section.ID] = len(byCourse[section.CourseID])
		sectionCourse[section.ID] = section.CourseID
		byCourse[section.CourseID] = append(byCourse[section.CourseID], section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sections rows: %w", err)
	}

	lectureRows, err := r.pool.Query(ctx, `
		SELECT l.id, l.section_id, l.title, l.duration_seconds, COALESCE(l.video_url, ''), l.pricing_rules, l.position
		FROM lectures l
		JOIN sections s ON s.id = l.section_id
		WHERE s.course_id = ANY($1)
		ORDER BY l.section_id, l.position, l.id
	`, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	defer lectureRows.Close()

	for lectureRows.Next() {
		var lecture Lecture
		if err := lectureRows.Scan(
			&lecture.ID,
			&lecture.SectionID,
			&lecture.Title,
			&lecture.DurationSeconds,
			&lecture.VideoURL,
			&lecture.PricingRules,
			&lecture.Position,
		); err != nil {
			return nil, fmt.Errorf("scan lecture: %w", err)
		}

		courseID, ok := sectionCourse[lecture.SectionID]
		if !ok {
			continue
		}
		idx := byID[lecture.SectionID]
		byCourse[courseID][idx].Lectures = append(byCourse[courseID][idx].Lectures, lecture)
	}
	if err := lectureRows.Err(); err != nil {
		return nil, fmt.Errorf("list lectures rows: %w", err)
	}

	return byCourse, nil
}

// CreateCourse inserts a full course aggregate (course, sections, lectures)
// in one transaction and returns the stored aggregate with generated IDs
// and timestamps.
func (r *PostgresRepository) CreateCourse(ctx context.Context, course Course) (Course, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Course{}, fmt.Errorf("begin create course: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	if course.Status == "" {
		course.Status = "Draft"
	}

	var created Course
	err = tx.QueryRow(ctx, `
		INSERT INTO courses (id, name, description, price, instructor_id, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6)
		RETURNING `+courseColumns+`
	`,
		course.ID,
		course.Name,
		course.Description,
		course.Price,
		course.InstructorID,
		course.Status,
	).Scan(
		&created.ID,
		&created.Name,
		&created.Description,
		&created.Price,
		&created.InstructorID,
		&created.Status,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Course{}, fmt.Errorf("create course: %w", err)
	}

	created.Sections = make([]Section, 0, len(course.Sections))
	for position, section := range course.Sections {
		if section.ID == "" {
			section.ID = uuid.NewString()
		}
		section.CourseID = created.ID
		section.Position = position

		if _, err := tx.Exec(ctx, `
			INSERT INTO sections (id, course_id, name, position)
			VALUES ($1, $2, $3, $4)
		`, section.ID, section.CourseID, section.Name, section.Position); err != nil {
			return Course{}, fmt.Errorf("create section: %w", err)
		}

		lectures := make([]Lecture, 0, len(section.Lectures))
		for lecturePosition, lecture := range section.Lectures {
			if lecture.ID == "" {
				lecture.ID = uuid.NewString()
			}
			lecture.SectionID = section.ID
			lecture.Position = lecturePosition
			lecture.PricingRules = ensureJSON(lecture.PricingRules, "[]")

			if _, err := tx.Exec(ctx, `
				INSERT INTO lectures (id, section_id, title, duration_seconds, video_url, pricing_rules, position)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
			`,
				lecture.ID,
				lecture.SectionID,
				lecture.Title,
				lecture.DurationSeconds,
				lecture.VideoURL,
				lecture.PricingRules,
				lecture.Position,
			); err != nil {
				return Course{}, fmt.Errorf("create lecture: %w", err)
			}
			lectures = append(lectures, lecture)
		}
		section.Lectures = lectures
		created.Sections = append(created.Sections, section)
	}

	if err := tx.Commit(ctx); err != nil {
		return Course{}, fmt.Errorf("commit create course: %w", err)
	}

	return created, nil
}

// UpdateCourse updates a course's scalar fields (name, description, price,
// status) and returns the updated aggregate. Returns pgx.ErrNoRows
// (wrapped) if the course does not exist.
func (r *PostgresRepository) UpdateCourse(ctx context.Context, course Course) (Course, error) {
	var updated Course
	err := r.pool.QueryRow(ctx, `
		UPDATE courses
		SET name = $2,
		    description = $3,
		    price = $4,
		    status = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+courseColumns+`
	`,
		course.ID,
		course.Name,
		course.Description,
		course.Price,
		course.Status,
	).Scan(
		&updated.ID,
		&updated.Name,
		&updated.Description,
		&updated.Price,
		&updated.InstructorID,
		&updated.Status,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Course{}, fmt.Errorf("update course: %w", err)
	}

	sections, err := r.sectionsForCourses(ctx, []string{updated.ID})
	if err != nil {
		return Course{}, err
	}
	updated.Sections = sections[updated.ID]
	if updated.Sections == nil {
		updated.Sections = []Section{}
	}

	return updated, nil
}

// DeleteCourse removes a course; sections and lectures cascade. Returns
// pgx.ErrNoRows (wrapped) if the course does not exist.
func (r *PostgresRepository) DeleteCourse(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("delete course: %w", pgx.ErrNoRows)
	}
	return nil
}

// UpdateLectureRules replaces a lecture's entitlement rule set and returns
// the course ID it belongs to, so callers can refresh their caches.
// Returns pgx.ErrNoRows (wrapped) if the lecture does not exist.
func (r *PostgresRepository) UpdateLectureRules(ctx context.Context, lectureID string, rules json.RawMessage) (string, error) {
	var courseID string
	err := r.pool.QueryRow(ctx, `
		UPDATE lectures l
		SET pricing_rules = $2
		FROM sections s
		WHERE l.id = $1 AND s.id = l.section_id
		RETURNING s.course_id
	`, lectureID, ensureJSON(rules, "[]")).Scan(&courseID)
	if err != nil {
		return "", fmt.Errorf("update lecture rules: %w", err)
	}
	return courseID, nil
}

// ensureJSON substitutes fallback for an empty JSON payload so NOT NULL
// jsonb columns never receive a zero-length value.
func ensureJSON(payload json.RawMessage, fallback string) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage(fallback)
	}
	return payload
}
