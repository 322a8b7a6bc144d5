package testhelpers

// WMSFixtureSQL is a small warehouse schema with seed rows. It covers every
// relationship shape the planner handles: a hub table (orders), a chain
// (order_lines -> products), and an island with no foreign keys (labor_events).
const WMSFixtureSQL = `
CREATE TABLE warehouses (
	warehouse_id   serial PRIMARY KEY,
	warehouse_code varchar(16) NOT NULL UNIQUE,
	name           varchar(100) NOT NULL
);

CREATE TABLE locations (
	location_id   serial PRIMARY KEY,
	warehouse_id  integer NOT NULL REFERENCES warehouses(warehouse_id),
	location_code varchar(32) NOT NULL UNIQUE,
	zone          varchar(16) NOT NULL,
	capacity      integer NOT NULL
);

CREATE TABLE products (
	product_id  serial PRIMARY KEY,
	sku         varchar(32) NOT NULL UNIQUE,
	description varchar(200) NOT NULL,
	weight_kg   numeric(10,3)
);

CREATE TABLE inventory (
	inventory_id     serial PRIMARY KEY,
	product_id       integer NOT NULL REFERENCES products(product_id),
	location_id      integer NOT NULL REFERENCES locations(location_id),
	quantity_on_hand integer NOT NULL,
	lot_number       varchar(32),
	updated_at       timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE customers (
	customer_id   serial PRIMARY KEY,
	customer_code varchar(16) NOT NULL UNIQUE,
	customer_name varchar(100) NOT NULL
);

CREATE TABLE orders (
	order_id     serial PRIMARY KEY,
	order_number varchar(32) NOT NULL UNIQUE,
	customer_id  integer NOT NULL REFERENCES customers(customer_id),
	status       varchar(16) NOT NULL,
	order_date   timestamptz NOT NULL
);

CREATE TABLE order_lines (
	order_line_id serial PRIMARY KEY,
	order_id      integer NOT NULL REFERENCES orders(order_id),
	product_id    integer NOT NULL REFERENCES products(product_id),
	quantity      integer NOT NULL
);

CREATE TABLE shipments (
	shipment_id     serial PRIMARY KEY,
	order_id        integer NOT NULL REFERENCES orders(order_id),
	carrier         varchar(32) NOT NULL,
	tracking_number varchar(64),
	shipped_at      timestamptz
);

CREATE TABLE labor_events (
	event_id    serial PRIMARY KEY,
	employee_id integer NOT NULL,
	task_type   varchar(32) NOT NULL,
	started_at  timestamptz NOT NULL
);

CREATE INDEX idx_inventory_product ON inventory(product_id);
CREATE INDEX idx_orders_status ON orders(status);

INSERT INTO warehouses (warehouse_code, name) VALUES ('DC1', 'Main DC'), ('DC2', 'Overflow');

INSERT INTO locations (warehouse_id, location_code, zone, capacity) VALUES
	(1, 'A-01-01', 'A', 100),
	(1, 'A-01-02', 'A', 100),
	(1, 'B-02-01', 'B', 50),
	(2, 'X-01-01', 'X', 500);

INSERT INTO products (sku, description, weight_kg) VALUES
	('SKU-1001', 'Blue widget', 0.250),
	('SKU-1002', 'Red widget', 0.300),
	('SKU-2001', 'Pallet wrap', 4.000);

INSERT INTO inventory (product_id, location_id, quantity_on_hand, lot_number) VALUES
	(1, 1, 40, 'L-01'),
	(1, 2, 15, 'L-02'),
	(2, 1, 70, 'L-03'),
	(3, 3, 5, NULL),
	(3, 4, 120, NULL);

INSERT INTO customers (customer_code, customer_name) VALUES ('ACME', 'Acme Corp'), ('GLOBEX', 'Globex');

INSERT INTO orders (order_number, customer_id, status, order_date) VALUES
	('SO-0001', 1, 'PENDING', now() - interval '1 day'),
	('SO-0002', 1, 'SHIPPED', now() - interval '3 days'),
	('SO-0003', 2, 'PENDING', now() - interval '10 days'),
	('SO-0004', 2, 'CANCELLED', now() - interval '40 days');

INSERT INTO order_lines (order_id, product_id, quantity) VALUES
	(1, 1, 5), (1, 2, 2), (2, 3, 1), (3, 1, 10), (4, 2, 1);

INSERT INTO shipments (order_id, carrier, tracking_number, shipped_at) VALUES
	(2, 'UPS', '1Z999', now() - interval '2 days');

INSERT INTO labor_events (employee_id, task_type, started_at) VALUES
	(7, 'PICK', now() - interval '1 hour'),
	(8, 'PUTAWAY', now() - interval '2 hours');

ANALYZE;
`
