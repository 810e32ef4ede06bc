// Package memory implements the order, coupon and catalog repositories in
// process memory. Each conditional write runs under a single mutex, giving
// the same all-or-nothing semantics the document stores provide.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ order.Repository  = (*Orders)(nil)
	_ coupon.Repository = (*Coupons)(nil)
	_ product.Resolver  = (*Catalog)(nil)
)

// Catalog is a static product.Resolver.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]product.Snapshot
}

// NewCatalog returns a Catalog holding products.
func NewCatalog(products ...product.Snapshot) *Catalog {
	c := &Catalog{products: make(map[string]product.Snapshot, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Put adds or replaces a product.
func (c *Catalog) Put(p product.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// Remove drops a product, as if it were archived.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

func (c *Catalog) Resolve(_ context.Context, ids []string) (map[string]product.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]product.Snapshot, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Orders is an in-memory order.Repository.
type Orders struct {
	mu     sync.Mutex
	byID   map[string]*order.Order
	number map[string]string
	token  map[string]string
}

// NewOrders returns an empty Orders.
func NewOrders() *Orders {
	return &Orders{
		byID:   make(map[string]*order.Order),
		number: make(map[string]string),
		token:  make(map[string]string),
	}
}

func (s *Orders) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.number[o.Number]; ok {
		return order.ErrDuplicateIdentity
	}
	if _, ok := s.token[o.AccessToken]; ok {
		return order.ErrDuplicateIdentity
	}
	s.byID[o.ID] = cloneOrder(o)
	s.number[o.Number] = o.ID
	s.token[o.AccessToken] = o.ID
	return nil
}

func (s *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Orders) List(_ context.Context, f order.ListFilter) ([]order.Order, int64, error) {
	s.mu.Lock()
	var matched []*order.Order
	for _, o := range s.byID {
		if o.Archived() && !f.IncludeDeleted {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	page := f.Page.Normalize()
	start := min(page.Offset(), total)
	end := min(start+int64(page.Limit), total)
	out := make([]order.Order, 0, end-start)
	for _, o := range matched[start:end] {
		out = append(out, *o)
	}
	return out, total, nil
}

func (s *Orders) UpdateStatus(_ context.Context, id string, from order.Status, entry order.HistoryEntry) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok || o.Archived() || o.Status != from {
		return nil, order.ErrPreconditionFailed
	}
	o.Status = entry.To
	o.History = o.History.Append(entry)
	o.UpdatedAt = entry.At
	return cloneOrder(o), nil
}

func (s *Orders) Archive(_ context.Context, id string, d order.Deletion) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok || o.Archived() {
		return nil, order.ErrPreconditionFailed
	}
	at := d.At
	o.DeletedAt = &at
	o.DeletedBy = d.By
	o.DeleteReason = d.Reason
	o.UpdatedAt = d.At
	return cloneOrder(o), nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.LineItem(nil), o.Items...)
	c.History = order.RestoreHistory(o.History.Entries())
	if o.Promotion != nil {
		p := *o.Promotion
		c.Promotion = &p
	}
	if o.DeletedAt != nil {
		t := *o.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Coupons is an in-memory coupon.Repository.
type Coupons struct {
	mu     sync.Mutex
	byID   map[string]*coupon.Coupon
	byCode map[string]string
}

// NewCoupons returns an empty Coupons.
func NewCoupons() *Coupons {
	return &Coupons{
		byID:   make(map[string]*coupon.Coupon),
		byCode: make(map[string]string),
	}
}

func (s *Coupons) Create(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[c.Code]; ok {
		return coupon.ErrDuplicateCode
	}
	s.byID[c.ID] = cloneCoupon(c)
	s.byCode[c.Code] = c.ID
	return nil
}

func (s *Coupons) Get(_ context.Context, id string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (s *Coupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return cloneCoupon(s.byID[id]), nil
}

func (s *Coupons) List(_ context.Context, f coupon.ListFilter) ([]coupon.Coupon, int64, error) {
	s.mu.Lock()
	var matched []*coupon.Coupon
	for _, c := range s.byID {
		if f.Active != nil && c.Active != *f.Active {
			continue
		}
		matched = append(matched, cloneCoupon(c))
	}
	s.mu.Unlock()

	sortCoupons(matched)
	total := int64(len(matched))
	page := f.Page.Normalize()
	start := min(page.Offset(), total)
	end := min(start+int64(page.Limit), total)
	out := make([]coupon.Coupon, 0, end-start)
	for _, c := range matched[start:end] {
		out = append(out, *c)
	}
	return out, total, nil
}

func (s *Coupons) ListAvailable(_ context.Context, now time.Time) ([]coupon.Coupon, error) {
	s.mu.Lock()
	var matched []*coupon.Coupon
	for _, c := range s.byID {
		if c.CurrentlyValid(now) {
			matched = append(matched, cloneCoupon(c))
		}
	}
	s.mu.Unlock()

	sortCoupons(matched)
	out := make([]coupon.Coupon, len(matched))
	for i, c := range matched {
		out[i] = *c
	}
	return out, nil
}

func (s *Coupons) Update(_ context.Context, c *coupon.Coupon) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[c.ID]
	if !ok {
		return nil, coupon.ErrPreconditionFailed
	}
	if c.UsageLimit != nil && *c.UsageLimit < cur.UsageCount {
		return nil, coupon.ErrPreconditionFailed
	}
	if owner, taken := s.byCode[c.Code]; taken && owner != c.ID {
		return nil, coupon.ErrDuplicateCode
	}

	next := cloneCoupon(c)
	next.UsageCount = cur.UsageCount
	next.RedeemedBy = append([]string(nil), cur.RedeemedBy...)
	next.CreatedBy = cur.CreatedBy
	next.CreatedAt = cur.CreatedAt

	delete(s.byCode, cur.Code)
	s.byCode[next.Code] = next.ID
	s.byID[next.ID] = next
	return cloneCoupon(next), nil
}

func (s *Coupons) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || c.UsageCount > 0 {
		return coupon.ErrPreconditionFailed
	}
	delete(s.byCode, c.Code)
	delete(s.byID, id)
	return nil
}

func (s *Coupons) Redeem(_ context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || !c.Active || !c.InWindow(now) || c.Exhausted() {
		return nil, coupon.ErrPreconditionFailed
	}
	if userID != "" {
		if c.RedemptionsBy(userID) >= c.PerUserLimit {
			return nil, coupon.ErrPreconditionFailed
		}
		c.RedeemedBy = append(c.RedeemedBy, userID)
	}
	c.UsageCount++
	c.UpdatedAt = now
	return cloneCoupon(c), nil
}

func (s *Coupons) Unredeem(_ context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	if c.UsageCount == 0 {
		return cloneCoupon(c), nil
	}
	c.UsageCount--
	if userID != "" {
		for i, u := range c.RedeemedBy {
			if u == userID {
				c.RedeemedBy = append(c.RedeemedBy[:i:i], c.RedeemedBy[i+1:]...)
				break
			}
		}
	}
	c.UpdatedAt = now
	return cloneCoupon(c), nil
}

func sortCoupons(cs []*coupon.Coupon) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].Code < cs[j].Code
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func cloneCoupon(c *coupon.Coupon) *coupon.Coupon {
	out := *c
	out.RedeemedBy = append([]string{}, c.RedeemedBy...)
	if c.UsageLimit != nil {
		v := *c.UsageLimit
		out.UsageLimit = &v
	}
	if c.MaximumDiscount != nil {
		v := *c.MaximumDiscount
		out.MaximumDiscount = &v
	}
	return &out
}
